package rpc

import (
	"testing"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/directory"
	"github.com/PaulBabatuyi/nearchat/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestTimeValue(t *testing.T) {
	at := time.Date(2024, 5, 22, 12, 30, 0, 123_000_000, time.FixedZone("CEST", 2*3600))
	s := TimeValue(at)
	assert.Equal(t, "2024-05-22T10:30:00.123Z", s)

	back, err := ParseTime(s)
	require.NoError(t, err)
	assert.True(t, at.Equal(back))

	_, err = ParseTime("yesterday")
	require.Error(t, err)
}

func TestCredentialsFromStruct(t *testing.T) {
	c, err := CredentialsFromStruct(Credentials{Email: "a@example.com", Password: "pw", Name: "Ann"}.Struct())
	require.NoError(t, err)
	assert.Equal(t, "Ann", c.Name)

	_, err = CredentialsFromStruct(Credentials{Email: " ", Password: "pw"}.Struct())
	require.Error(t, err)
	_, err = CredentialsFromStruct(&structpb.Struct{})
	require.Error(t, err)
}

func TestOutgoingFromStruct(t *testing.T) {
	o, err := OutgoingFromStruct(Outgoing{To: "bob", Content: "hi"}.Struct())
	require.NoError(t, err)
	assert.Equal(t, Outgoing{To: "bob", Content: "hi"}, o)

	_, err = OutgoingFromStruct(Outgoing{Content: "hi"}.Struct())
	require.Error(t, err)
}

func TestConversationsStruct(t *testing.T) {
	at := time.Date(2024, 5, 22, 9, 5, 0, 0, time.UTC)
	in := []messaging.Conversation{
		{ID: "bob", Name: "Bob", Avatar: "a.png", Message: "→ hi", Time: "09:05", Unread: false, LastAt: at},
		{ID: "carol", Name: "Unknown", Message: "hey", Time: "Yesterday", Unread: true, LastAt: at.Add(-24 * time.Hour)},
	}
	out, err := ConversationsFromStruct(ConversationsStruct(in))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, in[0].Message, out[0].Message)
	assert.True(t, out[1].Unread)
	assert.True(t, in[1].LastAt.Equal(out[1].LastAt))

	empty, err := ConversationsFromStruct(ConversationsStruct(nil))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMessagesStruct(t *testing.T) {
	at := time.Date(2024, 5, 22, 9, 5, 0, 0, time.UTC)
	in := []messaging.Message{{ID: "m1", SenderID: "a", ReceiverID: "b", Content: "<hi>", CreatedAt: at, Read: true}}
	out, err := MessagesFromStruct(MessagesStruct(in))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, at.Equal(out[0].CreatedAt))
	out[0].CreatedAt = at
	assert.Equal(t, in, out)
}

func TestQueryFromStruct(t *testing.T) {
	q, err := QueryFromStruct(QueryStruct(directory.Query{
		Origin: &directory.Point{Latitude: 51.5, Longitude: -0.12},
		Limit:  5,
		MaxKm:  25,
	}))
	require.NoError(t, err)
	require.NotNil(t, q.Origin)
	assert.Equal(t, 51.5, q.Origin.Latitude)
	assert.Equal(t, 5, q.Limit)
	assert.Equal(t, 25.0, q.MaxKm)

	q, err = QueryFromStruct(&structpb.Struct{})
	require.NoError(t, err)
	assert.Nil(t, q.Origin)

	half, _ := structpb.NewStruct(map[string]interface{}{"latitude": 1.0})
	_, err = QueryFromStruct(half)
	require.Error(t, err)

	neg, _ := structpb.NewStruct(map[string]interface{}{"limit": -1.0})
	_, err = QueryFromStruct(neg)
	require.Error(t, err)
}

func TestNearbyStruct(t *testing.T) {
	d := 1.25
	name := "Ann"
	seen := time.Date(2024, 5, 22, 9, 0, 0, 0, time.UTC)
	in := []directory.Nearby{
		{Profile: messaging.Profile{ID: "a", Name: &name, Online: true}, DistanceKm: &d},
		{Profile: messaging.Profile{ID: "b", LastOnline: &seen}},
	}
	s := NearbyStruct(in)
	out, err := NearbyFromStruct(s)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "Ann", *out[0].Name)
	require.NotNil(t, out[0].DistanceKm)
	assert.Equal(t, 1.25, *out[0].DistanceKm)

	assert.Equal(t, messaging.UnknownName, *out[1].Name)
	assert.Equal(t, messaging.PlaceholderAvatar(messaging.UnknownName), *out[1].Avatar)
	assert.Nil(t, out[1].DistanceKm)
	require.NotNil(t, out[1].LastOnline)
	assert.True(t, seen.Equal(*out[1].LastOnline))
}
