package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/erasure/internal/mail"
)

func TestMailboxListsNewestUnreadFirst(t *testing.T) {
	t.Parallel()

	mb := New()
	first := mb.Deliver(mail.Message{Snippet: "one"})
	second := mb.Deliver(mail.Message{Snippet: "two"})
	ctx := context.Background()

	refs, err := mb.ListUnread(ctx, 10)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, second, refs[0].ID)
	assert.Equal(t, first, refs[1].ID)

	require.NoError(t, mb.MarkRead(ctx, second))
	refs, err = mb.ListUnread(ctx, 10)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, first, refs[0].ID)
	assert.False(t, mb.IsUnread(second))
	assert.Equal(t, 2, mb.ListCalls())

	got, err := mb.GetMessage(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "one", got.Snippet)
}

func TestMailboxHonoursMax(t *testing.T) {
	t.Parallel()

	mb := New()
	for range 5 {
		mb.Deliver(mail.Message{})
	}
	refs, err := mb.ListUnread(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, refs, 3)
}

func TestMailboxSendRecordsAndFails(t *testing.T) {
	t.Parallel()

	mb := New()
	ctx := context.Background()
	out := mail.Outgoing{To: []string{"privacy@example.com"}, Subject: "s", Text: "b"}

	id, err := mb.Send(ctx, out)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, mb.Sent(), 1)

	_, err = mb.Send(ctx, mail.Outgoing{})
	require.Error(t, err)

	boom := errors.New("quota exceeded")
	mb.FailSend(boom)
	_, err = mb.Send(ctx, out)
	require.ErrorIs(t, err, boom)
	assert.Len(t, mb.Sent(), 1)
}

func TestMailboxUnknownIDs(t *testing.T) {
	t.Parallel()

	mb := New()
	_, err := mb.GetMessage(context.Background(), "nope")
	require.Error(t, err)
	require.Error(t, mb.MarkRead(context.Background(), "nope"))
}
