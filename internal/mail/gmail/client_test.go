package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/JakeFAU/erasure/internal/mail"
)

func b64(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

func TestConvertMessageFlattensParts(t *testing.T) {
	t.Parallel()

	raw := &gmailapi.Message{
		Id:           "abc",
		Snippet:      "snip",
		InternalDate: 1_700_000_000_000,
		Payload: &gmailapi.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmailapi.MessagePartHeader{
				{Name: "From", Value: "dpo@example.com"},
				{Name: "Subject", Value: "Deletion confirmed"},
			},
			Parts: []*gmailapi.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gmailapi.MessagePart{
						{MimeType: "text/plain", Body: &gmailapi.MessagePartBody{Data: b64("plain body")}},
						{MimeType: "text/html", Body: &gmailapi.MessagePartBody{Data: strings.TrimRight(b64("<p>html body</p>"), "=")}},
					},
				},
				{MimeType: "application/pdf", Body: &gmailapi.MessagePartBody{AttachmentId: "att"}},
			},
		},
	}

	m := convertMessage(raw)
	assert.Equal(t, "abc", m.ID)
	assert.Equal(t, "dpo@example.com", m.From())
	assert.Equal(t, "Deletion confirmed", m.Subject())
	assert.Equal(t, int64(1_700_000_000_000), m.Received.UnixMilli())
	require.Len(t, m.Parts, 2)
	assert.Equal(t, "plain body", string(m.Parts[0].Body))
	assert.Equal(t, "<p>html body</p>", string(m.Parts[1].Body))
	assert.Equal(t, "plain body", mail.BodyText(m))
}

func TestDecodeBodyRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := decodeBody("!!not base64!!")
	require.Error(t, err)
}

func TestBuildRawPlain(t *testing.T) {
	t.Parallel()

	raw, err := buildRaw(mail.Outgoing{
		From:    "me@example.org",
		To:      []string{"privacy@example.com"},
		Subject: "Personal Data Deletion Request - example.com",
		Text:    "Please delete my data.",
	})
	require.NoError(t, err)
	s := string(raw)
	assert.Contains(t, s, "From: me@example.org\r\n")
	assert.Contains(t, s, "To: privacy@example.com\r\n")
	assert.Contains(t, s, "Subject: Personal Data Deletion Request - example.com\r\n")
	assert.Contains(t, s, "Content-Type: text/plain")
	assert.True(t, strings.HasSuffix(s, "\r\n\r\nPlease delete my data."))
}

func TestBuildRawAlternative(t *testing.T) {
	t.Parallel()

	raw, err := buildRaw(mail.Outgoing{
		To:      []string{"a@example.com", "b@example.com"},
		Subject: "Löschung",
		Text:    "text",
		HTML:    "<p>html</p>",
	})
	require.NoError(t, err)
	s := string(raw)
	assert.Contains(t, s, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, s, "Subject: =?utf-8?q?")
	assert.Contains(t, s, "multipart/alternative; boundary=")
	assert.Contains(t, s, "<p>html</p>")
	assert.NotContains(t, s, "From:")
}

type fakeGmail struct {
	mu       sync.Mutex
	modified []string
	sentRaw  string
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/users/me/messages"):
		if r.URL.Query().Get("maxResults") != "20" {
			http.Error(w, `{"error":{"code":400,"message":"bad max"}}`, http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"messages":[{"id":"m1","threadId":"t1"}]}`)
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/users/me/messages/m1"):
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "m1",
			"payload": map[string]any{
				"mimeType": "text/plain",
				"headers":  []map[string]string{{"name": "Subject", "value": "hi"}},
				"body":     map[string]string{"data": b64("deletion confirmed")},
			},
		})
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/modify"):
		f.mu.Lock()
		f.modified = append(f.modified, path)
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"id":"m1"}`)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/messages/send"):
		var body struct {
			Raw string `json:"raw"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.sentRaw = body.Raw
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"id":"sent-1"}`)
	default:
		http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	svc, err := gmailapi.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	require.NoError(t, err)
	return NewWithService(svc, "me@example.org", nil)
}

func TestClientRoundTrip(t *testing.T) {
	t.Parallel()

	fake := &fakeGmail{}
	c := newTestClient(t, fake)
	ctx := context.Background()

	refs, err := c.ListUnread(ctx, 20)
	require.NoError(t, err)
	require.Equal(t, []mail.MessageRef{{ID: "m1", ThreadID: "t1"}}, refs)

	m, err := c.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "hi", m.Subject())
	assert.Equal(t, "deletion confirmed", mail.BodyText(m))

	require.NoError(t, c.MarkRead(ctx, "m1"))

	id, err := c.Send(ctx, mail.Outgoing{To: []string{"privacy@example.com"}, Subject: "s", Text: "b"})
	require.NoError(t, err)
	assert.Equal(t, "sent-1", id)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.modified, 1)
	raw, err := base64.URLEncoding.DecodeString(fake.sentRaw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "From: me@example.org\r\n")
}

func TestClientWrapsErrors(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.GetMessage(context.Background(), "missing")
	var opErr *mail.OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "get", opErr.Op)
}

func TestNewWithoutCredentialsIsDisabled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	svc := New(context.Background(), Config{
		CredentialsFile: filepath.Join(dir, "credentials.json"),
		TokenFile:       filepath.Join(dir, "token.json"),
	}, nil)
	_, err := svc.ListUnread(context.Background(), 1)
	require.ErrorIs(t, err, mail.ErrMailServiceInit)
}
