package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/soyeahso/mailroom/internal/config"
	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/logging"
)

// IMAP reads unseen mail from an IMAP server over TLS. Message ids are
// UIDs in the configured mailbox.
type IMAP struct {
	cfg  config.IMAPConfig
	log  *logging.Logger
	dial func(addr string) (*client.Client, error)
}

// NewIMAP creates an IMAP mailbox.
func NewIMAP(cfg config.IMAPConfig, log *logging.Logger) *IMAP {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	return &IMAP{
		cfg: cfg,
		log: log.Sub("imap"),
		dial: func(addr string) (*client.Client, error) {
			return client.DialTLS(addr, &tls.Config{ServerName: cfg.Host})
		},
	}
}

// Name implements Mailbox.
func (m *IMAP) Name() string { return "imap" }

func (m *IMAP) connect(ctx context.Context) (*client.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	m.log.Debug().Str("addr", addr).Msg("connecting to IMAP server")

	c, err := m.dial(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("login failed: %w", err)
	}
	return c, nil
}

// Fetch implements Mailbox.
func (m *IMAP) Fetch(ctx context.Context, max int) ([]domain.Email, error) {
	c, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if _, err := c.Select(m.cfg.Mailbox, true); err != nil {
		return nil, fmt.Errorf("failed to select mailbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if max > 0 && len(uids) > max {
		uids = uids[:max]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var emails []domain.Email
	for msg := range messages {
		e, err := m.toEmail(msg, section)
		if err != nil {
			m.log.Warn().Err(err).Uint32("uid", msg.Uid).Msg("skipping unreadable message")
			continue
		}
		emails = append(emails, e)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return emails, nil
}

// MarkRead implements Mailbox by setting \Seen on the UID.
func (m *IMAP) MarkRead(ctx context.Context, id string) error {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	c, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Logout()

	if _, err := c.Select(m.cfg.Mailbox, false); err != nil {
		return fmt.Errorf("failed to select mailbox: %w", err)
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("marking %s read: %w", id, err)
	}
	return nil
}

func (m *IMAP) toEmail(msg *imap.Message, section *imap.BodySectionName) (domain.Email, error) {
	e := domain.Email{ID: strconv.FormatUint(uint64(msg.Uid), 10), Source: "imap"}
	if env := msg.Envelope; env != nil {
		e.Subject = env.Subject
		e.ThreadID = env.MessageId
		e.ReceivedAt = env.Date.UTC()
		if len(env.From) > 0 {
			e.From = env.From[0].Address()
		}
		to := make([]string, 0, len(env.To))
		for _, addr := range env.To {
			to = append(to, addr.Address())
		}
		e.To = strings.Join(to, ", ")
	}

	literal := msg.GetBody(section)
	if literal == nil {
		return e, nil
	}
	mr, err := mail.ReadMessage(literal)
	if err != nil {
		return e, fmt.Errorf("reading message: %w", err)
	}
	body, err := extractMessageBody(mr)
	if err != nil {
		return e, err
	}
	e.Body = body
	return e, nil
}

// extractMessageBody returns the first text part of a MIME message.
func extractMessageBody(msg *mail.Message) (string, error) {
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		body, err := io.ReadAll(msg.Body)
		if err != nil {
			return "", err
		}
		return string(body), nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(msg.Body, params["boundary"])
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", err
			}
			partType, _, _ := mime.ParseMediaType(p.Header.Get("Content-Type"))
			if strings.HasPrefix(partType, "text/") {
				body, err := io.ReadAll(p)
				if err != nil {
					continue
				}
				return string(body), nil
			}
		}
		return "", nil
	}
	if strings.HasPrefix(mediaType, "text/") {
		var r io.Reader = msg.Body
		if strings.EqualFold(msg.Header.Get("Content-Transfer-Encoding"), "quoted-printable") {
			r = quotedprintable.NewReader(msg.Body)
		}
		body, err := io.ReadAll(r)
		if err != nil {
			return "", err
		}
		return string(body), nil
	}
	return "", fmt.Errorf("unsupported content type: %s", mediaType)
}
