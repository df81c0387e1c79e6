package chat

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pliu/coursechat/internal/models"
	"github.com/stretchr/testify/require"
)

func TestSendDirectScenario(t *testing.T) {
	f := newFixture(t)
	ids := f.users(t, 3)
	user1, user3 := ids[0], ids[2]
	f.mutual(t, user1, user3)

	sender := f.connect(user1, "u1")
	receiver := f.connect(user3, "u3")

	err := f.router.Dispatch(f.ctx, sender, user1, Inbound{
		Type:       TypeChatMessage,
		ReceiverID: user3,
		Content:    "hi",
		TempID:     json.RawMessage(`"tmp-1"`),
	})
	require.NoError(t, err)

	sent := sender.received(TypeMessageSent)
	require.Len(t, sent, 1)
	msg := sent[0].Message.(*models.DirectMessage)
	require.Equal(t, "hi", msg.Content)
	require.JSONEq(t, `"tmp-1"`, string(sent[0].TempID))

	got := receiver.received(TypeNewMessage)
	require.Len(t, got, 1)
	require.Equal(t, user1, got[0].Message.(*models.DirectMessage).SenderID)
	require.Empty(t, receiver.received(TypeMessageSent))
}

func TestSendDirectRequiresMutualFollow(t *testing.T) {
	f := newFixture(t)
	ids := f.users(t, 2)
	user1, user2 := ids[0], ids[1]
	require.NoError(t, f.store.Follow(f.ctx, user1, user2))

	receiver := f.connect(user2, "u2")

	_, err := f.router.SendDirect(f.ctx, user1, user2, "hello?", nil)
	requireKind(t, err, KindForbidden)

	history, err := f.store.ListDirectMessages(f.ctx, user1, user2, 10)
	require.NoError(t, err)
	require.Empty(t, history, "rejected messages are never persisted")
	require.Empty(t, receiver.received(""))

	_, err = f.router.History(f.ctx, user1, user2, 10)
	requireKind(t, err, KindForbidden)
}

func TestSendDirectForbiddenAfterUnfollow(t *testing.T) {
	f := newFixture(t)
	ids := f.users(t, 2)
	f.mutual(t, ids[0], ids[1])

	_, err := f.router.SendDirect(f.ctx, ids[0], ids[1], "first", nil)
	require.NoError(t, err)

	require.NoError(t, f.store.Unfollow(f.ctx, ids[1], ids[0]))

	_, err = f.router.SendDirect(f.ctx, ids[0], ids[1], "second", nil)
	requireKind(t, err, KindForbidden)
}

func TestSendDirectValidation(t *testing.T) {
	f := newFixture(t)
	ids := f.users(t, 2)
	f.mutual(t, ids[0], ids[1])

	tests := []struct {
		name     string
		receiver int64
		content  string
		kind     Kind
	}{
		{name: "empty content", receiver: ids[1], content: "", kind: KindValidation},
		{name: "blank content", receiver: ids[1], content: "   \n", kind: KindValidation},
		{name: "missing receiver", receiver: 0, content: "hi", kind: KindValidation},
		{name: "self", receiver: ids[0], content: "hi", kind: KindValidation},
		{name: "too long", receiver: ids[1], content: string(make([]byte, 4001)), kind: KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.router.SendDirect(f.ctx, ids[0], tt.receiver, tt.content, nil)
			requireKind(t, err, tt.kind)
		})
	}
}

func TestSendDirectPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	ids := f.users(t, 2)
	f.mutual(t, ids[0], ids[1])
	sender := f.connect(ids[0], "sender")
	receiver := f.connect(ids[1], "receiver")

	f.store.failWrites = true
	_, err := f.router.SendDirect(f.ctx, ids[0], ids[1], "lost?", nil)
	requireKind(t, err, KindPersistence)
	require.ErrorIs(t, err, errDiskFull)

	require.Empty(t, sender.received(TypeMessageSent))
	require.Empty(t, receiver.received(""))

	f.store.failWrites = false
	history, err := f.store.ListDirectMessages(f.ctx, ids[0], ids[1], 10)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestSendDirectFansOutToEveryDevice(t *testing.T) {
	f := newFixture(t)
	ids := f.users(t, 2)
	f.mutual(t, ids[0], ids[1])
	f.connect(ids[0], "sender")

	devices := []*fakeConn{f.connect(ids[1], "phone"), f.connect(ids[1], "laptop"), f.connect(ids[1], "tablet")}

	msg, err := f.router.SendDirect(f.ctx, ids[0], ids[1], "to all devices", nil)
	require.NoError(t, err)

	for _, d := range devices {
		got := d.received(TypeNewMessage)
		require.Len(t, got, 1, d.ID())
		delivered := got[0].Message.(*models.DirectMessage)
		require.Equal(t, msg.ID, delivered.ID)
		require.Equal(t, "to all devices", delivered.Content)
	}
}

func TestSendDirectOfflineReceiverIsStored(t *testing.T) {
	f := newFixture(t)
	ids := f.users(t, 2)
	f.mutual(t, ids[0], ids[1])
	sender := f.connect(ids[0], "sender")

	_, err := f.router.SendDirect(f.ctx, ids[0], ids[1], "read this later", nil)
	require.NoError(t, err)
	require.Len(t, sender.received(TypeMessageSent), 1)

	count, unread, err := f.router.Unread(f.ctx, ids[1])
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Len(t, unread, 1)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ids := f.users(t, 2)
	writer, reader := ids[0], ids[1]
	f.mutual(t, writer, reader)
	writerConn := f.connect(writer, "writer")
	readerConn := f.connect(reader, "reader")

	for _, content := range []string{"one", "two"} {
		_, err := f.router.SendDirect(f.ctx, writer, reader, content, nil)
		require.NoError(t, err)
	}

	require.NoError(t, f.router.Dispatch(f.ctx, readerConn, reader, Inbound{Type: TypeMarkRead, SenderID: writer}))
	read := writerConn.received(TypeMessagesRead)
	require.Len(t, read, 1)
	require.Equal(t, reader, read[0].ReadBy)

	count, _, err := f.router.Unread(f.ctx, reader)
	require.NoError(t, err)
	require.Zero(t, count)

	changed, err := f.router.MarkRead(f.ctx, reader, writer)
	require.NoError(t, err)
	require.Zero(t, changed)
	require.Len(t, writerConn.received(TypeMessagesRead), 1, "no duplicate messages_read")
}

func TestMarkReadValidation(t *testing.T) {
	f := newFixture(t)
	ids := f.users(t, 1)

	_, err := f.router.MarkRead(f.ctx, ids[0], 0)
	requireKind(t, err, KindValidation)

	_, err = f.router.MarkRead(f.ctx, ids[0], ids[0])
	requireKind(t, err, KindValidation)
}

func TestHistoryMarksCounterpartMessagesRead(t *testing.T) {
	f := newFixture(t)
	ids := f.users(t, 2)
	alice, bob := ids[0], ids[1]
	f.mutual(t, alice, bob)
	aliceConn := f.connect(alice, "alice")

	_, err := f.router.SendDirect(f.ctx, alice, bob, "question", nil)
	require.NoError(t, err)
	_, err = f.router.SendDirect(f.ctx, bob, alice, "answer", nil)
	require.NoError(t, err)

	history, err := f.router.History(f.ctx, bob, alice, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "question", history[0].Content)
	require.True(t, history[0].IsRead, "alice's message was read by fetching")
	require.False(t, history[1].IsRead, "bob's own message stays unread for alice")

	require.Len(t, aliceConn.received(TypeMessagesRead), 1)

	count, err := f.store.CountUnread(f.ctx, bob)
	require.NoError(t, err)
	require.Zero(t, count)
	count, err = f.store.CountUnread(f.ctx, alice)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestHistoryMarksOnlyFetchedMessagesRead(t *testing.T) {
	f := newFixture(t)
	ids := f.users(t, 2)
	alice, bob := ids[0], ids[1]
	f.mutual(t, alice, bob)
	aliceConn := f.connect(alice, "alice")

	for _, content := range []string{"one", "two", "three"} {
		_, err := f.router.SendDirect(f.ctx, alice, bob, content, nil)
		require.NoError(t, err)
	}

	history, err := f.router.History(f.ctx, bob, alice, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "three", history[0].Content)
	require.True(t, history[0].IsRead)
	require.Len(t, aliceConn.received(TypeMessagesRead), 1)

	count, err := f.store.CountUnread(f.ctx, bob)
	require.NoError(t, err)
	require.Equal(t, 2, count, "messages outside the page stay unread")

	_, err = f.router.History(f.ctx, bob, alice, 1)
	require.NoError(t, err)
	require.Len(t, aliceConn.received(TypeMessagesRead), 1, "nothing new was read")

	history, err = f.router.History(f.ctx, bob, alice, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for _, m := range history {
		require.True(t, m.IsRead, m.Content)
	}
	require.Len(t, aliceConn.received(TypeMessagesRead), 2)
}

func TestSendGroup(t *testing.T) {
	f := newFixture(t)
	ids := f.users(t, 4)
	creator, m1, m2, outsider := ids[0], ids[1], ids[2], ids[3]
	f.mutual(t, creator, m1)
	f.mutual(t, creator, m2)

	group, err := f.groups.CreateGroup(f.ctx, creator, "Study", []int64{m1, m2})
	require.NoError(t, err)

	creatorConn := f.connect(creator, "creator")
	m1Conn := f.connect(m1, "m1")
	outsiderConn := f.connect(outsider, "outsider")

	err = f.router.Dispatch(f.ctx, creatorConn, creator, Inbound{
		Type:    TypeGroupMessage,
		GroupID: group.ID,
		Content: "meeting at 5",
		TempID:  json.RawMessage(`17`),
	})
	require.NoError(t, err)

	sent := creatorConn.received(TypeMessageSent)
	require.Len(t, sent, 1)
	require.JSONEq(t, `17`, string(sent[0].TempID))
	require.Empty(t, creatorConn.received(TypeNewGroupMessage), "sender gets the echo only")

	got := m1Conn.received(TypeNewGroupMessage)
	require.Len(t, got, 1)
	require.Equal(t, "meeting at 5", got[0].Message.(*models.GroupMessage).Content)
	require.Empty(t, outsiderConn.received(""))

	_, err = f.router.SendGroup(f.ctx, outsider, group.ID, "let me in", nil)
	requireKind(t, err, KindForbidden)

	_, err = f.router.SendGroup(f.ctx, creator, 999, "anyone?", nil)
	requireKind(t, err, KindNotFound)

	messages, err := f.store.ListGroupMessages(f.ctx, group.ID, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
}

func TestSendGroupUsesCurrentMembership(t *testing.T) {
	f := newFixture(t)
	ids := f.users(t, 2)
	creator, member := ids[0], ids[1]
	f.mutual(t, creator, member)

	group, err := f.groups.CreateGroup(f.ctx, creator, "Study", []int64{member})
	require.NoError(t, err)
	memberConn := f.connect(member, "member")

	require.NoError(t, f.groups.RemoveMember(f.ctx, group.ID, creator, member))

	_, err = f.router.SendGroup(f.ctx, creator, group.ID, "after removal", nil)
	require.NoError(t, err)
	require.Empty(t, memberConn.received(TypeNewGroupMessage))

	_, err = f.router.SendGroup(f.ctx, member, group.ID, "still here?", nil)
	requireKind(t, err, KindForbidden)
}

func TestSendGroupPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	ids := f.users(t, 2)
	f.mutual(t, ids[0], ids[1])
	group, err := f.groups.CreateGroup(f.ctx, ids[0], "Study", []int64{ids[1]})
	require.NoError(t, err)
	sender := f.connect(ids[0], "sender")
	member := f.connect(ids[1], "member")

	f.store.failWrites = true
	_, err = f.router.SendGroup(f.ctx, ids[0], group.ID, "lost?", nil)
	requireKind(t, err, KindPersistence)
	require.Empty(t, sender.received(""))
	require.Empty(t, member.received(""))
}

func TestTyping(t *testing.T) {
	f := newFixture(t)
	ids := f.users(t, 3)
	alice, bob, carol := ids[0], ids[1], ids[2]
	f.mutual(t, alice, bob)
	aliceConn := f.connect(alice, "alice")
	bobConn := f.connect(bob, "bob")
	carolConn := f.connect(carol, "carol")

	require.NoError(t, f.router.Dispatch(f.ctx, aliceConn, alice, Inbound{Type: TypeTyping, ReceiverID: bob, IsTyping: true}))
	got := bobConn.received(TypeTypingStatus)
	require.Len(t, got, 1)
	require.Equal(t, alice, got[0].UserID)
	require.True(t, *got[0].IsTyping)

	err := f.router.Dispatch(f.ctx, aliceConn, alice, Inbound{Type: TypeTyping, ReceiverID: carol, IsTyping: true})
	requireKind(t, err, KindForbidden)
	require.Empty(t, carolConn.received(""))
}

func TestGroupTypingReachesJoinedConnections(t *testing.T) {
	f := newFixture(t)
	ids := f.users(t, 2)
	creator, member := ids[0], ids[1]
	f.mutual(t, creator, member)
	group, err := f.groups.CreateGroup(f.ctx, creator, "Study", []int64{member})
	require.NoError(t, err)

	creatorConn := f.connect(creator, "creator")
	joined := f.connect(member, "joined")
	idle := f.connect(member, "idle")

	require.NoError(t, f.router.Dispatch(f.ctx, joined, member, Inbound{Type: TypeJoinGroup, GroupID: group.ID}))
	require.True(t, joined.Subscribed(group.ID))

	require.NoError(t, f.router.Dispatch(f.ctx, creatorConn, creator, Inbound{Type: TypeTyping, GroupID: group.ID, IsTyping: true}))
	require.Len(t, joined.received(TypeTypingStatus), 1)
	require.Empty(t, idle.received(TypeTypingStatus))

	require.NoError(t, f.router.Dispatch(f.ctx, joined, member, Inbound{Type: TypeLeaveGroup, GroupID: group.ID}))
	require.False(t, joined.Subscribed(group.ID))
}

func TestJoinGroupRequiresMembership(t *testing.T) {
	f := newFixture(t)
	ids := f.users(t, 2)
	group, err := f.groups.CreateGroup(f.ctx, ids[0], "Solo", nil)
	require.NoError(t, err)
	outsider := f.connect(ids[1], "outsider")

	err = f.router.Dispatch(f.ctx, outsider, ids[1], Inbound{Type: TypeJoinGroup, GroupID: group.ID})
	requireKind(t, err, KindForbidden)
	require.False(t, outsider.Subscribed(group.ID))
}

func TestDispatchUnknownEvent(t *testing.T) {
	f := newFixture(t)
	ids := f.users(t, 1)
	conn := f.connect(ids[0], "conn")

	err := f.router.Dispatch(f.ctx, conn, ids[0], Inbound{Type: "dance"})
	require.True(t, errors.Is(err, ErrUnknownEvent))
}

func TestErrorEventKeepsTempID(t *testing.T) {
	ev := ErrorEventFor(forbidden("nope"), json.RawMessage(`"abc"`))
	require.Equal(t, TypeError, ev.Type)
	require.Equal(t, KindForbidden, ev.Code)
	require.Equal(t, "nope", ev.Message)
	require.JSONEq(t, `"abc"`, string(ev.TempID))

	ev = ErrorEventFor(errors.New("boom"), nil)
	require.Equal(t, KindPersistence, ev.Code)
}

func TestUnreadMessagesEventAlwaysListsMessages(t *testing.T) {
	data, err := json.Marshal(UnreadMessagesEvent(0, nil))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"unread_messages","count":0,"messages":[]}`, string(data))

	data, err = json.Marshal(PongEvent())
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"pong"}`, string(data))
}

func TestIsInbound(t *testing.T) {
	require.True(t, IsInbound(TypeChatMessage))
	require.True(t, IsInbound(TypeAuth))
	require.False(t, IsInbound(TypeNewMessage))
	require.False(t, IsInbound("made_up"))
	require.False(t, IsInbound(""))
}
