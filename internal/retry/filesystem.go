package retry

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/idlemail/mailhubd/internal/hub"
	"github.com/idlemail/mailhubd/internal/mail"
)

// Filesystem is a RetryAgent that persists each queued delivery as its own
// file under dir, so an in-flight retry survives a process restart. Unlike
// Memory, a clean shutdown leaves every still-pending entry on disk instead
// of discarding it; the next Start call picks them back up.
type Filesystem struct {
	dir    string
	delay  time.Duration
	logger *slog.Logger
}

// NewFilesystem builds a Filesystem retry agent rooted at dir, which must
// already exist (the config loader validates this at startup).
func NewFilesystem(dir string, delay time.Duration, logger *slog.Logger) *Filesystem {
	return &Filesystem{dir: dir, delay: delay, logger: logger.With("retry_agent", "filesystem", "path", dir)}
}

type fsEntry struct {
	due  time.Time
	path string
	dest mail.DestinationName
	mail mail.Mail
}

// Start implements hub.RetryAgent.
func (a *Filesystem) Start(inbound <-chan hub.RetryRequest, outbound chan<- hub.RetryMail, stop hub.StopToken) {
	queue, err := a.loadExisting()
	if err != nil {
		a.logger.Error("failed to load persisted retry entries", "error", err)
	} else if len(queue) > 0 {
		a.logger.Info("recovered persisted retry entries", "count", len(queue))
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop.Done():
			if len(queue) > 0 {
				a.logger.Info("leaving pending retry entries on disk at shutdown", "count", len(queue))
			}
			return

		case req := <-inbound:
			entry, err := a.persist(req)
			if err != nil {
				a.logger.Error("failed to persist retry entry, mail permanently lost", "mail_id", req.Mail.ID(), "error", err)
				continue
			}
			queue = append(queue, entry)

		case <-ticker.C:
			now := time.Now()
			for len(queue) > 0 && !queue[0].due.After(now) {
				entry := queue[0]
				queue = queue[1:]
				if err := os.Remove(entry.path); err != nil && !os.IsNotExist(err) {
					a.logger.Error("failed to remove handed-off retry file", "path", entry.path, "error", err)
				}
				outbound <- hub.RetryMail{Destination: entry.dest, Mail: entry.mail}
			}
		}
	}
}

func (a *Filesystem) persist(req hub.RetryRequest) (fsEntry, error) {
	due := time.Now().Add(a.delay)
	id := req.Mail.ID()
	path := filepath.Join(a.dir, recordFilename(due, id))

	var buf bytes.Buffer
	if err := writeField(&buf, []byte(req.Mail.Source())); err != nil {
		return fsEntry{}, err
	}
	if err := writeField(&buf, []byte(req.Destination)); err != nil {
		return fsEntry{}, err
	}
	if err := writeField(&buf, req.Mail.Body()); err != nil {
		return fsEntry{}, err
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fsEntry{}, fmt.Errorf("write retry record %s: %w", path, err)
	}

	return fsEntry{due: due, path: path, dest: req.Destination, mail: req.Mail}, nil
}

func (a *Filesystem) loadExisting() ([]fsEntry, error) {
	matches, err := filepath.Glob(filepath.Join(a.dir, "*.retry"))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", a.dir, err)
	}

	entries := make([]fsEntry, 0, len(matches))
	for _, path := range matches {
		due, id, ok := parseRecordFilename(filepath.Base(path))
		if !ok {
			a.logger.Warn("ignoring unrecognized file in retry directory", "path", path)
			continue
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			a.logger.Error("failed to read retry record, skipping", "path", path, "error", err)
			continue
		}

		source, dest, body, err := decodeRecord(raw)
		if err != nil {
			a.logger.Error("failed to decode retry record, skipping", "path", path, "error", err)
			continue
		}

		entries = append(entries, fsEntry{
			due:  due,
			path: path,
			dest: mail.DestinationName(dest),
			mail: mail.WithID(id, mail.SourceName(source), body),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].due.Before(entries[j].due) })
	return entries, nil
}

func recordFilename(due time.Time, id uuid.UUID) string {
	return strconv.FormatInt(due.UnixNano(), 10) + "_" + id.String() + ".retry"
}

func parseRecordFilename(name string) (time.Time, uuid.UUID, bool) {
	trimmed := strings.TrimSuffix(name, ".retry")
	parts := strings.SplitN(trimmed, "_", 2)
	if len(parts) != 2 {
		return time.Time{}, uuid.UUID{}, false
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, uuid.UUID{}, false
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return time.Time{}, uuid.UUID{}, false
	}
	return time.Unix(0, nanos), id, true
}

func writeField(buf *bytes.Buffer, data []byte) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := buf.Write(data)
	return err
}

func decodeRecord(raw []byte) (source, dest string, body []byte, err error) {
	r := bytes.NewReader(raw)

	source, err = readField(r)
	if err != nil {
		return "", "", nil, fmt.Errorf("read source field: %w", err)
	}
	dest, err = readField(r)
	if err != nil {
		return "", "", nil, fmt.Errorf("read destination field: %w", err)
	}
	bodyStr, err := readField(r)
	if err != nil {
		return "", "", nil, fmt.Errorf("read body field: %w", err)
	}
	return source, dest, []byte(bodyStr), nil
}

func readField(r *bytes.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	return string(data), nil
}
