package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"

	"github.com/warp/car-insurance/insurance"
)

type fakeSender struct {
	to   telebot.Recipient
	what interface{}
	err  error
}

func (s *fakeSender) Send(to telebot.Recipient, what interface{}, _ ...interface{}) (*telebot.Message, error) {
	s.to, s.what = to, what
	return &telebot.Message{}, s.err
}

func testExpiration() Expiration {
	return Expiration{
		Policy: insurance.Policy{
			ID:       7,
			CarID:    3,
			Provider: "Allianz",
			EndDate:  insurance.MustParseDate("2024-12-31"),
		},
		ExpiresAt: utc("2025-01-01T00:00:00Z"),
	}
}

func TestTelegramNotifier_SendsToChat(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramNotifierWithSender(sender, 4242)

	require.NoError(t, n.NotifyExpiration(context.Background(), testExpiration()))

	assert.Equal(t, "4242", sender.to.Recipient())
	assert.Equal(t,
		"Policy 7 (car 3, provider Allianz) expired at 2025-01-01T00:00:00Z (end date 2024-12-31).",
		sender.what)
}

func TestTelegramNotifier_WrapsSendError(t *testing.T) {
	cause := errors.New("chat not found")
	n := NewTelegramNotifierWithSender(&fakeSender{err: cause}, 1)

	err := n.NotifyExpiration(context.Background(), testExpiration())

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "policy 7")
}
