// Package imapconn wraps a single IMAP connection with the reconnect and
// retry policy every source built on top of it shares: at most one session
// is live at a time, a lost connection is silently replaced on the next
// operation, and any other error is retried a bounded number of times before
// being surfaced to the caller.
package imapconn

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// maxOperationRetries bounds how many attempts in total Run makes at an
// operation that fails with something other than a lost connection before
// giving up and returning the error to the caller. A lost connection doesn't
// count against this budget: Run always reconnects and tries again.
const maxOperationRetries = 3

// Auth holds LOGIN-command credentials. PLAIN authentication is rejected
// during configuration loading, so Connection only ever needs to speak
// LOGIN.
type Auth struct {
	User     string
	Password string
}

// Connection manages a lazily-established, auto-reconnecting IMAP session.
// A Connection is safe for use by a single goroutine at a time; the Hub
// never shares one Connection across concurrently-running sources.
type Connection struct {
	addr string
	auth Auth

	mu   sync.Mutex
	sess *client.Client
}

// New creates a Connection that will dial addr (host:port) over TLS and
// authenticate with auth the first time it is needed. No network activity
// happens until the first call to Run, ListMailboxes, or IterUnseen.
func New(addr string, auth Auth) *Connection {
	return &Connection{addr: addr, auth: auth}
}

// session returns the current session, dialing and logging in if none is
// cached yet.
func (c *Connection) session() (*client.Client, error) {
	if c.sess != nil {
		return c.sess, nil
	}

	tlsConfig := &tls.Config{ServerName: hostOf(c.addr)}
	imapClient, err := client.DialWithDialerTLS(&net.Dialer{Timeout: DialTimeout}, c.addr, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.addr, err)
	}
	imapClient.Timeout = DialTimeout
	if err := imapClient.Login(c.auth.User, c.auth.Password); err != nil {
		_ = imapClient.Logout()
		return nil, fmt.Errorf("login: %w", err)
	}

	c.sess = imapClient
	return c.sess, nil
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// discard drops the cached session without logging out: used when the
// connection is already known to be dead.
func (c *Connection) discard() {
	c.sess = nil
}

// Run executes op against the live session, reconnecting transparently if
// the session was lost and making at most maxOperationRetries attempts in
// total on any other error before returning it.
func (c *Connection) Run(op func(*client.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	retries := 0
	for {
		sess, err := c.session()
		if err != nil {
			return fmt.Errorf("establish session: %w", err)
		}

		err = op(sess)
		if err == nil {
			return nil
		}

		if isConnectionLost(err) {
			c.discard()
			continue
		}

		retries++
		if retries >= maxOperationRetries {
			return fmt.Errorf("imap operation failed after %d attempts: %w", retries, err)
		}
	}
}

// isConnectionLost reports whether err indicates the underlying network
// connection is gone, as opposed to a recoverable protocol-level error
// (a bad command, a server-side NO response, and similar).
func isConnectionLost(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// ListMailboxes returns every mailbox name under the server's root, each
// expressed as a "/"-delimited absolute path. If filter is non-empty, only
// mailboxes whose path starts with filter are returned.
func (c *Connection) ListMailboxes(filter string) ([]string, error) {
	var names []string
	err := c.Run(func(sess *client.Client) error {
		names = nil
		mailboxes := make(chan *imap.MailboxInfo, 16)
		done := make(chan error, 1)
		go func() { done <- sess.List("", "*", mailboxes) }()

		for mbox := range mailboxes {
			path := mbox.Name
			if mbox.Delimiter != "" {
				path = normalizeDelimiter(mbox.Name, mbox.Delimiter)
			}
			names = append(names, path)
		}
		return <-done
	})
	if err != nil {
		return nil, err
	}
	if filter == "" {
		return names, nil
	}
	filtered := names[:0]
	for _, name := range names {
		if hasPrefix(name, filter) {
			filtered = append(filtered, name)
		}
	}
	return filtered, nil
}

func normalizeDelimiter(name, delimiter string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if string(r) == delimiter {
			out = append(out, '/')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// UnseenFetch is one message returned by IterUnseen: its server-assigned UID
// and raw RFC822 body.
type UnseenFetch struct {
	UID  uint32
	Body []byte
}

// IterUnseen selects mailbox and fetches every message matching "UNDELETED
// UNSEEN", in the order the server reports them. Fetching the body with a
// non-peek FETCH item causes the server to mark each message \Seen as a
// side effect, which is how a source configured to leave mail in place
// still avoids reprocessing it on the next pass.
func (c *Connection) IterUnseen(mailbox string) ([]UnseenFetch, error) {
	var uids []uint32
	err := c.Run(func(sess *client.Client) error {
		if _, err := sess.Select(mailbox, false); err != nil {
			return fmt.Errorf("select %s: %w", mailbox, err)
		}
		criteria := imap.NewSearchCriteria()
		criteria.WithoutFlags = []string{imap.DeletedFlag, imap.SeenFlag}
		found, err := sess.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("search %s: %w", mailbox, err)
		}
		uids = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	results := make([]UnseenFetch, 0, len(uids))
	for _, uid := range uids {
		fetch, err := c.fetchOne(mailbox, uid)
		if err != nil {
			return results, err
		}
		results = append(results, fetch)
	}
	return results, nil
}

func (c *Connection) fetchOne(mailbox string, uid uint32) (UnseenFetch, error) {
	var out UnseenFetch
	err := c.Run(func(sess *client.Client) error {
		if _, err := sess.Select(mailbox, false); err != nil {
			return fmt.Errorf("select %s: %w", mailbox, err)
		}
		seqset := new(imap.SeqSet)
		seqset.AddNum(uid)

		section := &imap.BodySectionName{Peek: false}
		messages := make(chan *imap.Message, 1)
		done := make(chan error, 1)
		go func() { done <- sess.UidFetch(seqset, []imap.FetchItem{imap.FetchUid, section.FetchItem()}, messages) }()

		msg, ok := <-messages
		if err := <-done; err != nil {
			return fmt.Errorf("fetch uid %d: %w", uid, err)
		}
		if !ok || msg == nil {
			return fmt.Errorf("no message returned for uid %d", uid)
		}
		body := msg.GetBody(section)
		if body == nil {
			return fmt.Errorf("message %d has no body", uid)
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("read body of message %d: %w", uid, err)
		}
		out = UnseenFetch{UID: msg.Uid, Body: raw}
		return nil
	})
	return out, err
}

// Delete flags the given UIDs \Deleted and expunges mailbox. Used by
// sources configured with keep=false.
func (c *Connection) Delete(mailbox string, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	return c.Run(func(sess *client.Client) error {
		if _, err := sess.Select(mailbox, false); err != nil {
			return fmt.Errorf("select %s: %w", mailbox, err)
		}
		seqset := new(imap.SeqSet)
		seqset.AddNum(uids...)

		item := imap.FormatFlagsOp(imap.AddFlags, true)
		flags := []interface{}{imap.DeletedFlag}
		if err := sess.UidStore(seqset, item, flags, nil); err != nil {
			return fmt.Errorf("store deleted flag: %w", err)
		}
		return sess.Expunge(nil)
	})
}

// TakeSession hands the live *client.Client to the caller and forgets it,
// so the Connection's retry machinery stops managing it. Used by the
// IMAP-Idle source to put the raw client into IDLE mode, where Run's usual
// request/response cycle doesn't apply.
func (c *Connection) TakeSession() (*client.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.session()
	if err != nil {
		return nil, err
	}
	taken := sess
	c.sess = nil
	return taken, nil
}

// Adopt gives a previously taken session back to the Connection, so
// subsequent Run calls reuse it instead of reconnecting.
func (c *Connection) Adopt(sess *client.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess = sess
}

// Close logs out the current session, if any, on a best-effort basis.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	err := c.sess.Logout()
	c.sess = nil
	return err
}

// DialTimeout is kept small and explicit rather than configurable: the
// IMAP servers this daemon targets are expected to be reachable well within
// it, and a slow DNS lookup or TCP handshake should fail fast instead of
// hanging a source's poll loop.
const DialTimeout = 10 * time.Second
