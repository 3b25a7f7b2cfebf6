// Package gmail implements mail.Service on the Gmail REST API.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/JakeFAU/erasure/internal/mail"
)

const user = "me"

// Config locates the OAuth client secrets and the cached user token.
type Config struct {
	CredentialsFile string
	TokenFile       string
	Sender          string
}

// Client talks to one Gmail account.
type Client struct {
	svc    *gmailapi.Service
	sender string
	logger *zap.Logger
}

var _ mail.Service = (*Client)(nil)

// New authorises against Gmail. When the credentials or token cannot be
// loaded it logs the reason and returns a mail.Disabled service so callers
// fail per operation with mail.ErrMailServiceInit instead of at startup.
func New(ctx context.Context, cfg Config, logger *zap.Logger) mail.Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient, err := authorise(ctx, cfg)
	if err != nil {
		logger.Warn("gmail disabled", zap.Error(err))
		return mail.Disabled{Reason: err}
	}
	svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		logger.Warn("gmail disabled", zap.Error(err))
		return mail.Disabled{Reason: err}
	}
	return &Client{svc: svc, sender: cfg.Sender, logger: logger}
}

// NewWithService wraps an existing API service.
func NewWithService(svc *gmailapi.Service, sender string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{svc: svc, sender: sender, logger: logger}
}

func authorise(ctx context.Context, cfg Config) (*http.Client, error) {
	secret, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	oauthCfg, err := google.ConfigFromJSON(secret, gmailapi.GmailModifyScope, gmailapi.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	tok, err := loadToken(cfg.TokenFile)
	if err != nil {
		return nil, err
	}
	return oauthCfg.Client(ctx, tok), nil
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open token: %w", err)
	}
	defer func() { _ = f.Close() }()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return tok, nil
}

// ListUnread lists unread inbox messages.
func (c *Client) ListUnread(ctx context.Context, max int) ([]mail.MessageRef, error) {
	call := c.svc.Users.Messages.List(user).LabelIds("INBOX", "UNREAD").Context(ctx)
	if max > 0 {
		call = call.MaxResults(int64(max))
	}
	resp, err := call.Do()
	if err != nil {
		return nil, &mail.OperationError{Op: "list", Err: err}
	}
	refs := make([]mail.MessageRef, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		refs = append(refs, mail.MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	return refs, nil
}

// GetMessage fetches the full message and decodes its text parts.
func (c *Client) GetMessage(ctx context.Context, id string) (mail.Message, error) {
	m, err := c.svc.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return mail.Message{}, &mail.OperationError{Op: "get", Err: err}
	}
	return convertMessage(m), nil
}

// MarkRead removes the UNREAD label.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	req := &gmailapi.ModifyMessageRequest{RemoveLabelIds: []string{"UNREAD"}}
	if _, err := c.svc.Users.Messages.Modify(user, id, req).Context(ctx).Do(); err != nil {
		return &mail.OperationError{Op: "modify", Err: err}
	}
	return nil
}

// Send encodes msg as RFC 822 and sends it from the authorised account.
func (c *Client) Send(ctx context.Context, msg mail.Outgoing) (string, error) {
	if msg.From == "" {
		msg.From = c.sender
	}
	if err := msg.Validate(); err != nil {
		return "", &mail.OperationError{Op: "send", Err: err}
	}
	raw, err := buildRaw(msg)
	if err != nil {
		return "", &mail.OperationError{Op: "send", Err: err}
	}
	sent, err := c.svc.Users.Messages.Send(user, &gmailapi.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return "", &mail.OperationError{Op: "send", Err: err}
	}
	c.logger.Info("mail sent", zap.Strings("to", msg.To), zap.String("message_id", sent.Id))
	return sent.Id, nil
}

func convertMessage(m *gmailapi.Message) mail.Message {
	out := mail.Message{
		ID:      m.Id,
		Headers: make(map[string]string),
		Snippet: m.Snippet,
	}
	if m.InternalDate > 0 {
		out.Received = time.UnixMilli(m.InternalDate).UTC()
	}
	if m.Payload == nil {
		return out
	}
	for _, h := range m.Payload.Headers {
		key := strings.ToLower(h.Name)
		if _, seen := out.Headers[key]; !seen {
			out.Headers[key] = h.Value
		}
	}
	out.Parts = flattenParts(m.Payload, nil)
	return out
}

// flattenParts walks the MIME tree depth first and keeps decodable leaves.
func flattenParts(p *gmailapi.MessagePart, acc []mail.Part) []mail.Part {
	if p == nil {
		return acc
	}
	if len(p.Parts) == 0 {
		if p.Body != nil && p.Body.Data != "" {
			if data, err := decodeBody(p.Body.Data); err == nil {
				acc = append(acc, mail.Part{MimeType: p.MimeType, Body: data})
			}
		}
		return acc
	}
	for _, child := range p.Parts {
		acc = flattenParts(child, acc)
	}
	return acc
}

func decodeBody(data string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, errors.New("body is not base64url")
	}
	return b, nil
}

func buildRaw(msg mail.Outgoing) ([]byte, error) {
	var buf bytes.Buffer
	writeHeader := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }
	if msg.From != "" {
		writeHeader("From", msg.From)
	}
	writeHeader("To", strings.Join(msg.To, ", "))
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader("MIME-Version", "1.0")

	if msg.HTML == "" {
		writeHeader("Content-Type", `text/plain; charset="UTF-8"`)
		buf.WriteString("\r\n")
		buf.WriteString(msg.Text)
		return buf.Bytes(), nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	writeHeader("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	buf.WriteString("\r\n")
	for _, part := range []struct{ ctype, content string }{
		{`text/plain; charset="UTF-8"`, msg.Text},
		{`text/html; charset="UTF-8"`, msg.HTML},
	} {
		if part.content == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {part.ctype}})
		if err != nil {
			return nil, fmt.Errorf("create mime part: %w", err)
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, fmt.Errorf("write mime part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}
	buf.Write(body.Bytes())
	return buf.Bytes(), nil
}
