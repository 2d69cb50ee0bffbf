package chathub

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"nearme/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	alice      = models.UserIdentity{ID: "alice", Username: "Alice", AccountTier: models.TierRestricted}
	aliceFull  = models.UserIdentity{ID: "alice", Username: "Alice", AccountTier: models.TierFull}
	t0         = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	background = context.Background()
)

func newTestPipeline(store MessageStore) (*Pipeline, *RoomRouter) {
	rooms := NewRoomRouter(discardLogger())
	p := NewPipeline(store, rooms, discardLogger())
	p.now = func() time.Time { return t0 }
	return p, rooms
}

func assertSendErr(t *testing.T, err error, kind error) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, kind)
	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, kind.Error(), sendErr.Code())
	assert.NotEmpty(t, sendErr.Message())
}

func TestPipeline_EmptyPayloadNeverPersists(t *testing.T) {
	store := new(MockStore)
	p, _ := newTestPipeline(store)

	for name, req := range map[string]SendRequest{
		"both nil":      {Sender: alice, ReceiverID: "bob"},
		"blank content": {Sender: alice, ReceiverID: "bob", Content: ptr("   ")},
		"both blank":    {Sender: alice, ReceiverID: "bob", Content: ptr(""), ImageURL: ptr("")},
	} {
		t.Run(name, func(t *testing.T) {
			msg, err := p.Send(background, req)
			assert.Nil(t, msg)
			assertSendErr(t, err, ErrEmptyPayload)
		})
	}

	store.AssertNotCalled(t, "UserExists", mock.Anything)
	store.AssertNotCalled(t, "SaveMessage", mock.Anything)
}

func TestPipeline_PayloadTooLarge(t *testing.T) {
	store := newMemStore("bob")
	p, _ := newTestPipeline(store)

	_, err := p.Send(background, SendRequest{Sender: aliceFull, ReceiverID: "bob", Content: ptr(strings.Repeat("a", 2001))})
	assertSendErr(t, err, ErrPayloadTooLarge)

	// The limit counts characters, not bytes.
	msg, err := p.Send(background, SendRequest{Sender: aliceFull, ReceiverID: "bob", Content: ptr(strings.Repeat("ж", 2000))})
	require.NoError(t, err)
	assert.NotNil(t, msg.Content)
	assert.Len(t, store.Saved(), 1)
}

func TestPipeline_ImageOnly(t *testing.T) {
	store := newMemStore("bob")
	p, _ := newTestPipeline(store)

	msg, err := p.Send(background, SendRequest{Sender: alice, ReceiverID: "bob", ImageURL: ptr("https://cdn.example/p.jpg")})
	require.NoError(t, err)
	assert.Nil(t, msg.Content)
	assert.Equal(t, "https://cdn.example/p.jpg", *msg.ImageURL)
}

func TestPipeline_Recipient(t *testing.T) {
	store := new(MockStore)
	store.On("UserExists", "ghost").Return(false, nil)
	store.On("UserExists", "flaky").Return(false, errors.New("db down"))
	p, _ := newTestPipeline(store)

	_, err := p.Send(background, SendRequest{Sender: alice, ReceiverID: "ghost", Content: ptr("hi")})
	assertSendErr(t, err, ErrUnknownRecipient)

	_, err = p.Send(background, SendRequest{Sender: alice, ReceiverID: "flaky", Content: ptr("hi")})
	assertSendErr(t, err, ErrPersistenceFailure)

	_, err = p.Send(background, SendRequest{Sender: alice, ReceiverID: "alice", Content: ptr("hi")})
	assertSendErr(t, err, ErrInvalidRecipient)

	store.AssertNotCalled(t, "SaveMessage", mock.Anything)
}

func TestPipeline_RestrictedWindow(t *testing.T) {
	store := newMemStore("bob")
	p, _ := newTestPipeline(store)
	now := t0
	p.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		now = t0.Add(time.Duration(i) * time.Minute)
		_, err := p.Send(background, SendRequest{Sender: alice, ReceiverID: "bob", Content: ptr("hey")})
		require.NoError(t, err, "message %d", i+1)
	}

	now = t0.Add(10 * time.Minute)
	_, err := p.Send(background, SendRequest{Sender: alice, ReceiverID: "bob", Content: ptr("sixth")})
	assertSendErr(t, err, ErrRateLimited)

	now = t0.Add(23 * time.Hour)
	_, err = p.Send(background, SendRequest{Sender: alice, ReceiverID: "bob", Content: ptr("still inside")})
	assertSendErr(t, err, ErrRateLimited)

	// The first message is now older than 24h.
	now = t0.Add(24*time.Hour + time.Second)
	_, err = p.Send(background, SendRequest{Sender: alice, ReceiverID: "bob", Content: ptr("back")})
	require.NoError(t, err)

	_, err = p.Send(background, SendRequest{Sender: alice, ReceiverID: "bob", Content: ptr("again")})
	assertSendErr(t, err, ErrRateLimited)

	assert.Len(t, store.Saved(), 6)
}

func TestPipeline_FullTierIsExempt(t *testing.T) {
	store := new(MockStore)
	store.On("UserExists", "bob").Return(true, nil)
	store.On("SaveMessage", mock.AnythingOfType("*models.Message")).Return(nil)
	p, _ := newTestPipeline(store)
	now := t0
	p.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		now = t0.Add(time.Duration(i) * 600 * time.Millisecond)
		_, err := p.Send(background, SendRequest{Sender: aliceFull, ReceiverID: "bob", Content: ptr("spam")})
		require.NoError(t, err)
	}

	store.AssertNumberOfCalls(t, "SaveMessage", 100)
	store.AssertNotCalled(t, "CountRecentMessages", mock.Anything, mock.Anything)
}

func TestPipeline_PersistenceFailure(t *testing.T) {
	store := new(MockStore)
	store.On("UserExists", "bob").Return(true, nil)
	store.On("CountRecentMessages", "alice", t0.Add(-24*time.Hour)).Return(int64(0), nil)
	store.On("SaveMessage", mock.Anything).Return(errors.New("connection reset"))
	p, rooms := newTestPipeline(store)

	origin := newFakeClient("a1", "alice", models.TierRestricted)
	bob := newFakeClient("b1", "bob", models.TierFull)
	rooms.Join(bob, RoomIDFor("alice", "bob"))
	rooms.Join(bob, PersonalRoom("bob"))

	msg, err := p.Send(background, SendRequest{Sender: alice, ReceiverID: "bob", Content: ptr("hi"), Origin: origin})

	assert.Nil(t, msg)
	assertSendErr(t, err, ErrPersistenceFailure)
	assert.Empty(t, origin.Events(), "no ack for an unsaved message")
	assert.Empty(t, bob.Events(), "no ghost delivery")
	store.AssertNumberOfCalls(t, "SaveMessage", 1)
}

func TestPipeline_CountFailure(t *testing.T) {
	store := new(MockStore)
	store.On("UserExists", "bob").Return(true, nil)
	store.On("CountRecentMessages", "alice", mock.Anything).Return(int64(0), errors.New("timeout"))
	p, _ := newTestPipeline(store)

	_, err := p.Send(background, SendRequest{Sender: alice, ReceiverID: "bob", Content: ptr("hi")})
	assertSendErr(t, err, ErrPersistenceFailure)
	store.AssertNotCalled(t, "SaveMessage", mock.Anything)
}

func TestPipeline_PersistsBeforeFanOut(t *testing.T) {
	store := new(MockStore)
	p, rooms := newTestPipeline(store)
	bob := newFakeClient("b1", "bob", models.TierFull)
	rooms.Join(bob, RoomIDFor("alice", "bob"))
	rooms.Join(bob, PersonalRoom("bob"))

	store.On("UserExists", "bob").Return(true, nil)
	store.On("SaveMessage", mock.Anything).Run(func(args mock.Arguments) {
		assert.Empty(t, bob.Events(), "nothing delivered before the write")
		args.Get(0).(*models.Message).ID = "msg-1"
	}).Return(nil)

	msg, err := p.Send(background, SendRequest{Sender: aliceFull, ReceiverID: "bob", Content: ptr("hi")})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", msg.ID)
	assert.Equal(t, []string{models.EventMessageReceived, models.EventMessageNotification}, bob.Names())
}

func TestPipeline_FanOutSurfaces(t *testing.T) {
	store := newMemStore("bob", "carol")
	p, rooms := newTestPipeline(store)
	pair := RoomIDFor("alice", "bob")

	aliceWeb := newFakeClient("a-web", "alice", models.TierFull)
	alicePhone := newFakeClient("a-phone", "alice", models.TierFull)
	bobChat := newFakeClient("b-chat", "bob", models.TierFull)
	bobIdle := newFakeClient("b-idle", "bob", models.TierFull)
	carol := newFakeClient("c", "carol", models.TierFull)

	for _, c := range []*fakeClient{aliceWeb, alicePhone, bobChat, bobIdle, carol} {
		rooms.Join(c, PersonalRoom(c.GetUserID()))
	}
	rooms.Join(aliceWeb, pair)
	rooms.Join(alicePhone, pair)
	rooms.Join(bobChat, pair)

	msg, err := p.Send(background, SendRequest{Sender: aliceFull, ReceiverID: "bob", Content: ptr("hello"), Origin: aliceWeb})
	require.NoError(t, err)
	assert.False(t, msg.IsRead)
	assert.Equal(t, t0, msg.CreatedAt)

	assert.Equal(t, []string{models.EventMessageSent}, aliceWeb.Names(), "origin only gets the ack")
	assert.Equal(t, msg, aliceWeb.Events()[0].Data)
	assert.Equal(t, []string{models.EventMessageReceived}, alicePhone.Names(), "sender's other device in the room sees it")

	assert.Equal(t, []string{models.EventMessageReceived, models.EventMessageNotification}, bobChat.Names())
	assert.Equal(t, []string{models.EventMessageNotification}, bobIdle.Names(), "personal channel only, never received")
	assert.Equal(t, models.NotificationPayload{Message: msg, SenderName: "Alice"}, bobIdle.Events()[0].Data)

	assert.Empty(t, carol.Events())
}

func TestPipeline_SenderGoneMidSend(t *testing.T) {
	store := newMemStore("bob")
	p, rooms := newTestPipeline(store)
	origin := newFakeClient("a1", "alice", models.TierFull)
	bob := newFakeClient("b1", "bob", models.TierFull)
	rooms.Join(bob, RoomIDFor("alice", "bob"))
	rooms.Join(bob, PersonalRoom("bob"))

	origin.Close()
	msg, err := p.Send(background, SendRequest{Sender: aliceFull, ReceiverID: "bob", Content: ptr("bye"), Origin: origin})

	require.NoError(t, err)
	assert.Len(t, store.Saved(), 1)
	assert.Empty(t, origin.Events())
	assert.Equal(t, []string{models.EventMessageReceived, models.EventMessageNotification}, bob.Names())
	assert.Equal(t, msg, bob.Events()[0].Data)
}

func TestPipeline_ClosedTargetDoesNotStopOthers(t *testing.T) {
	store := newMemStore("bob")
	p, rooms := newTestPipeline(store)
	dead := newFakeClient("b-dead", "bob", models.TierFull)
	live := newFakeClient("b-live", "bob", models.TierFull)
	dead.Close()
	rooms.Join(dead, PersonalRoom("bob"))
	rooms.Join(live, PersonalRoom("bob"))

	_, err := p.Send(background, SendRequest{Sender: aliceFull, ReceiverID: "bob", Content: ptr("hi")})

	require.NoError(t, err)
	assert.Equal(t, []string{models.EventMessageNotification}, live.Names())
}

func TestPipeline_ConcurrentRestrictedSendsRespectCap(t *testing.T) {
	store := newMemStore("bob")
	store.saveDelay = 5 * time.Millisecond
	p, _ := newTestPipeline(store)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		limited int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Send(background, SendRequest{Sender: alice, ReceiverID: "bob", Content: ptr("race")})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, ErrRateLimited) {
				limited++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	assert.Equal(t, 7, limited)
	assert.Len(t, store.Saved(), 5)
	assert.Zero(t, p.senders.size(), "sender locks are released")
}

func TestPipeline_PerSenderOrder(t *testing.T) {
	store := newMemStore("bob")
	p, _ := newTestPipeline(store)

	bodies := []string{"one", "two", "three", "four"}
	for _, b := range bodies {
		_, err := p.Send(background, SendRequest{Sender: aliceFull, ReceiverID: "bob", Content: ptr(b)})
		require.NoError(t, err)
	}

	saved := store.Saved()
	require.Len(t, saved, len(bodies))
	for i, m := range saved {
		assert.Equal(t, bodies[i], *m.Content)
	}
}

func TestPipeline_StalledWriteBlocksOnlyItsOwnSend(t *testing.T) {
	store := newMemStore("bob")
	entered := make(chan struct{})
	release := make(chan struct{})
	store.beforeSave = func(msg *models.Message) {
		if *msg.Content == "slow" {
			close(entered)
			<-release
		}
	}
	p, _ := newTestPipeline(store)

	slowDone := make(chan error, 1)
	go func() {
		_, err := p.Send(background, SendRequest{Sender: aliceFull, ReceiverID: "bob", Content: ptr("slow")})
		slowDone <- err
	}()
	<-entered

	fastDone := make(chan error, 1)
	go func() {
		_, err := p.Send(background, SendRequest{Sender: aliceFull, ReceiverID: "bob", Content: ptr("fast")})
		fastDone <- err
	}()

	select {
	case err := <-fastDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("a send from another device waited on the stalled write")
	}

	close(release)
	require.NoError(t, <-slowDone)
	assert.Len(t, store.Saved(), 2)
	assert.Zero(t, p.senders.size(), "full tier sends never take the sender lock")
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()

	unlockB := k.Lock("b")
	unlockB()

	select {
	case <-acquired:
		t.Fatal("second holder of the same key must wait")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock never handed over")
	}

	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 5*time.Millisecond)
}
