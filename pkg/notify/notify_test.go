package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeSender struct {
	errs  []error
	calls []tgbotapi.Chattable
}

func (f *fakeSender) next(c tgbotapi.Chattable) error {
	f.calls = append(f.calls, c)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := f.next(c); err != nil {
		return tgbotapi.Message{}, err
	}
	return tgbotapi.Message{MessageID: 42}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if err := f.next(c); err != nil {
		return nil, err
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func apiError(code int, retryAfter int) error {
	return &tgbotapi.Error{
		Code:               code,
		Message:            http.StatusText(code),
		ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: retryAfter},
	}
}

func newTestNotifier(sender *fakeSender) *Telegram {
	return New(sender, Config{FallbackDelay: time.Millisecond}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSend_RetriesRateLimit(t *testing.T) {
	sender := &fakeSender{errs: []error{apiError(http.StatusTooManyRequests, 0)}}
	n := newTestNotifier(sender)

	id, err := n.Send(context.Background(), 10, "💳 ACME $45.00", MultiplierKeyboard(7))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != 42 {
		t.Errorf("message id: got %d, want 42", id)
	}
	if len(sender.calls) != 2 {
		t.Errorf("calls: got %d, want 2", len(sender.calls))
	}

	msg, ok := sender.calls[1].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("unexpected chattable %T", sender.calls[1])
	}
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(markup.InlineKeyboard) != 1 || len(markup.InlineKeyboard[0]) != 3 {
		t.Errorf("unexpected markup: %#v", msg.ReplyMarkup)
	}
}

func TestSend_DoesNotRetryOtherErrors(t *testing.T) {
	sender := &fakeSender{errs: []error{apiError(http.StatusForbidden, 0)}}
	n := newTestNotifier(sender)

	_, err := n.Send(context.Background(), 10, "hola", nil)
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusForbidden {
		t.Fatalf("expected a 403 api error, got %v", err)
	}
	if len(sender.calls) != 1 {
		t.Errorf("calls: got %d, want 1", len(sender.calls))
	}
}

func TestSend_GivesUpAfterAttempts(t *testing.T) {
	limited := apiError(http.StatusTooManyRequests, 0)
	sender := &fakeSender{errs: []error{limited, limited, limited, limited}}
	n := newTestNotifier(sender)

	if _, err := n.Send(context.Background(), 10, "hola", nil); err == nil {
		t.Fatal("expected an error after exhausting attempts")
	}
	if len(sender.calls) != 3 {
		t.Errorf("calls: got %d, want 3", len(sender.calls))
	}
}

func TestSend_RejectsLongPayload(t *testing.T) {
	sender := &fakeSender{}
	n := newTestNotifier(sender)

	kb := Keyboard{{{Text: "x", Data: MenuData("a-key-that-is-far-too-long-to-fit-into-a-telegram-callback-payload")}}}
	if _, err := n.Send(context.Background(), 10, "hola", kb); !errors.Is(err, ErrCallbackTooLong) {
		t.Fatalf("got %v, want %v", err, ErrCallbackTooLong)
	}
	if len(sender.calls) != 0 {
		t.Error("nothing should be sent")
	}
}

func TestEdit(t *testing.T) {
	t.Run("nil keyboard removes buttons", func(t *testing.T) {
		sender := &fakeSender{}
		n := newTestNotifier(sender)

		if err := n.Edit(context.Background(), 10, 5, "✅ listo", nil); err != nil {
			t.Fatalf("Edit: %v", err)
		}
		edit, ok := sender.calls[0].(tgbotapi.EditMessageTextConfig)
		if !ok {
			t.Fatalf("unexpected chattable %T", sender.calls[0])
		}
		if edit.ReplyMarkup != nil {
			t.Errorf("expected no markup, got %#v", edit.ReplyMarkup)
		}
		if edit.MessageID != 5 || edit.Text != "✅ listo" {
			t.Errorf("unexpected edit: %+v", edit)
		}
	})

	t.Run("keyboard is attached", func(t *testing.T) {
		sender := &fakeSender{}
		n := newTestNotifier(sender)

		if err := n.Edit(context.Background(), 10, 5, "elige", CategoryKeyboard(3)); err != nil {
			t.Fatalf("Edit: %v", err)
		}
		edit := sender.calls[0].(tgbotapi.EditMessageTextConfig)
		if edit.ReplyMarkup == nil || len(edit.ReplyMarkup.InlineKeyboard) != 2 {
			t.Errorf("unexpected markup: %#v", edit.ReplyMarkup)
		}
	})

	t.Run("bad request is tolerated", func(t *testing.T) {
		sender := &fakeSender{errs: []error{apiError(http.StatusBadRequest, 0)}}
		n := newTestNotifier(sender)

		if err := n.Edit(context.Background(), 10, 5, "same text", nil); err != nil {
			t.Errorf("expected a tolerated error, got %v", err)
		}
	})

	t.Run("transport error is returned", func(t *testing.T) {
		sender := &fakeSender{errs: []error{errors.New("connection reset")}}
		n := newTestNotifier(sender)

		if err := n.Edit(context.Background(), 10, 5, "x", nil); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestAnswer(t *testing.T) {
	sender := &fakeSender{}
	n := newTestNotifier(sender)

	if err := n.Answer(context.Background(), "cb-1", "Primero elige el multiplicador"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	cb, ok := sender.calls[0].(tgbotapi.CallbackConfig)
	if !ok {
		t.Fatalf("unexpected chattable %T", sender.calls[0])
	}
	if cb.CallbackQueryID != "cb-1" || cb.Text == "" {
		t.Errorf("unexpected callback answer: %+v", cb)
	}
}
