package websocket

import (
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/eubbbruno/instauto-chat/internal/models"
)

func TestClientReplyRacingCloseDoesNotPanic(t *testing.T) {
	c := NewClient(nil, nil, models.Participant{UserID: uuid.New()}, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			c.sendError("connection draining", "")
		}
	}()
	go func() {
		defer wg.Done()
		c.closeSend()
	}()
	wg.Wait()

	// Late frames after the close are dropped, and closing twice is a
	// no-op.
	c.sendError("late frame", "")
	c.closeSend()
}
