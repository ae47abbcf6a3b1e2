package rpc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/directory"
	"github.com/PaulBabatuyi/nearchat/internal/messaging"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Credentials is the Register and Login request.
type Credentials struct {
	Email    string
	Password string
	// Name is only read by Register.
	Name string
}

// Session is the Register and Login response.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// Outgoing is the SendMessage request.
type Outgoing struct {
	To      string
	Content string
}

// TimeValue formats t using the protobuf JSON mapping of google.protobuf.Timestamp.
func TimeValue(t time.Time) string {
	b, err := protojson.Marshal(timestamppb.New(t))
	if err != nil {
		return t.UTC().Format(time.RFC3339Nano)
	}
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return s
}

// ParseTime parses a value produced by TimeValue.
func ParseTime(s string) (time.Time, error) {
	var ts timestamppb.Timestamp
	if err := protojson.Unmarshal([]byte(strconv.Quote(s)), &ts); err != nil {
		return time.Time{}, fmt.Errorf("rpc: parse time %q: %w", s, err)
	}
	return ts.AsTime(), nil
}

func (c Credentials) Struct() *structpb.Struct {
	f := map[string]*structpb.Value{
		"email":    structpb.NewStringValue(c.Email),
		"password": structpb.NewStringValue(c.Password),
	}
	if c.Name != "" {
		f["name"] = structpb.NewStringValue(c.Name)
	}
	return &structpb.Struct{Fields: f}
}

func CredentialsFromStruct(s *structpb.Struct) (Credentials, error) {
	c := Credentials{
		Email:    str(s, "email"),
		Password: str(s, "password"),
		Name:     str(s, "name"),
	}
	if strings.TrimSpace(c.Email) == "" || c.Password == "" {
		return Credentials{}, errors.New("email and password are required")
	}
	return c, nil
}

func (s Session) Struct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"token":      structpb.NewStringValue(s.Token),
		"user_id":    structpb.NewStringValue(s.UserID),
		"expires_at": structpb.NewStringValue(TimeValue(s.ExpiresAt)),
	}}
}

func SessionFromStruct(s *structpb.Struct) (Session, error) {
	exp, err := ParseTime(str(s, "expires_at"))
	if err != nil {
		return Session{}, err
	}
	return Session{Token: str(s, "token"), UserID: str(s, "user_id"), ExpiresAt: exp}, nil
}

func (o Outgoing) Struct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"to":      structpb.NewStringValue(o.To),
		"content": structpb.NewStringValue(o.Content),
	}}
}

func OutgoingFromStruct(s *structpb.Struct) (Outgoing, error) {
	o := Outgoing{To: str(s, "to"), Content: str(s, "content")}
	if o.To == "" {
		return Outgoing{}, errors.New("recipient is required")
	}
	return o, nil
}

// ConversationsStruct encodes a conversation list as {conversations: [...]}.
func ConversationsStruct(cs []messaging.Conversation) *structpb.Struct {
	items := make([]*structpb.Value, 0, len(cs))
	for _, c := range cs {
		items = append(items, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"id":      structpb.NewStringValue(c.ID),
			"name":    structpb.NewStringValue(c.Name),
			"avatar":  structpb.NewStringValue(c.Avatar),
			"message": structpb.NewStringValue(c.Message),
			"time":    structpb.NewStringValue(c.Time),
			"unread":  structpb.NewBoolValue(c.Unread),
			"last_at": structpb.NewStringValue(TimeValue(c.LastAt)),
		}}))
	}
	return list("conversations", items)
}

func ConversationsFromStruct(s *structpb.Struct) ([]messaging.Conversation, error) {
	var out []messaging.Conversation
	for _, v := range s.GetFields()["conversations"].GetListValue().GetValues() {
		item := v.GetStructValue()
		at, err := ParseTime(str(item, "last_at"))
		if err != nil {
			return nil, err
		}
		out = append(out, messaging.Conversation{
			ID:      str(item, "id"),
			Name:    str(item, "name"),
			Avatar:  str(item, "avatar"),
			Message: str(item, "message"),
			Time:    str(item, "time"),
			Unread:  item.GetFields()["unread"].GetBoolValue(),
			LastAt:  at,
		})
	}
	return out, nil
}

// MessagesStruct encodes a thread as {messages: [...]}.
func MessagesStruct(ms []messaging.Message) *structpb.Struct {
	items := make([]*structpb.Value, 0, len(ms))
	for _, m := range ms {
		items = append(items, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"id":          structpb.NewStringValue(m.ID),
			"sender_id":   structpb.NewStringValue(m.SenderID),
			"receiver_id": structpb.NewStringValue(m.ReceiverID),
			"content":     structpb.NewStringValue(m.Content),
			"created_at":  structpb.NewStringValue(TimeValue(m.CreatedAt)),
			"read":        structpb.NewBoolValue(m.Read),
		}}))
	}
	return list("messages", items)
}

func MessagesFromStruct(s *structpb.Struct) ([]messaging.Message, error) {
	var out []messaging.Message
	for _, v := range s.GetFields()["messages"].GetListValue().GetValues() {
		item := v.GetStructValue()
		at, err := ParseTime(str(item, "created_at"))
		if err != nil {
			return nil, err
		}
		out = append(out, messaging.Message{
			ID:         str(item, "id"),
			SenderID:   str(item, "sender_id"),
			ReceiverID: str(item, "receiver_id"),
			Content:    str(item, "content"),
			CreatedAt:  at,
			Read:       item.GetFields()["read"].GetBoolValue(),
		})
	}
	return out, nil
}

// QueryStruct encodes a nearby query. Unset fields are omitted.
func QueryStruct(q directory.Query) *structpb.Struct {
	f := map[string]*structpb.Value{}
	if q.Origin != nil {
		f["latitude"] = structpb.NewNumberValue(q.Origin.Latitude)
		f["longitude"] = structpb.NewNumberValue(q.Origin.Longitude)
	}
	if q.Limit > 0 {
		f["limit"] = structpb.NewNumberValue(float64(q.Limit))
	}
	if q.MaxKm > 0 {
		f["max_km"] = structpb.NewNumberValue(q.MaxKm)
	}
	return &structpb.Struct{Fields: f}
}

// QueryFromStruct decodes a nearby query. Latitude and longitude must be given together.
func QueryFromStruct(s *structpb.Struct) (directory.Query, error) {
	var q directory.Query
	lat, hasLat := num(s, "latitude")
	lon, hasLon := num(s, "longitude")
	switch {
	case hasLat && hasLon:
		q.Origin = &directory.Point{Latitude: lat, Longitude: lon}
	case hasLat || hasLon:
		return directory.Query{}, errors.New("latitude and longitude must be given together")
	}
	if n, ok := num(s, "limit"); ok {
		if n < 0 {
			return directory.Query{}, errors.New("limit must not be negative")
		}
		q.Limit = int(n)
	}
	if km, ok := num(s, "max_km"); ok {
		if km < 0 {
			return directory.Query{}, errors.New("max_km must not be negative")
		}
		q.MaxKm = km
	}
	return q, nil
}

// NearbyStruct encodes directory results as {profiles: [...]}. distance_km is null
// when unknown.
func NearbyStruct(ns []directory.Nearby) *structpb.Struct {
	items := make([]*structpb.Value, 0, len(ns))
	for i := range ns {
		n := &ns[i]
		f := map[string]*structpb.Value{
			"id":          structpb.NewStringValue(n.ID),
			"name":        structpb.NewStringValue(messaging.DisplayName(&n.Profile)),
			"avatar":      structpb.NewStringValue(messaging.AvatarURL(&n.Profile)),
			"online":      structpb.NewBoolValue(n.Online),
			"distance_km": structpb.NewNullValue(),
		}
		if n.DistanceKm != nil {
			f["distance_km"] = structpb.NewNumberValue(*n.DistanceKm)
		}
		if n.LastOnline != nil {
			f["last_online"] = structpb.NewStringValue(TimeValue(*n.LastOnline))
		}
		if n.Status != nil {
			f["status"] = structpb.NewStringValue(*n.Status)
		}
		items = append(items, structpb.NewStructValue(&structpb.Struct{Fields: f}))
	}
	return list("profiles", items)
}

func NearbyFromStruct(s *structpb.Struct) ([]directory.Nearby, error) {
	var out []directory.Nearby
	for _, v := range s.GetFields()["profiles"].GetListValue().GetValues() {
		item := v.GetStructValue()
		name, avatar := str(item, "name"), str(item, "avatar")
		n := directory.Nearby{Profile: messaging.Profile{
			ID:     str(item, "id"),
			Name:   &name,
			Avatar: &avatar,
			Online: item.GetFields()["online"].GetBoolValue(),
		}}
		if d, ok := num(item, "distance_km"); ok {
			n.DistanceKm = &d
		}
		if lo := str(item, "last_online"); lo != "" {
			at, err := ParseTime(lo)
			if err != nil {
				return nil, err
			}
			n.LastOnline = &at
		}
		if st := str(item, "status"); st != "" {
			n.Status = &st
		}
		out = append(out, n)
	}
	return out, nil
}

func list(key string, items []*structpb.Value) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		key: structpb.NewListValue(&structpb.ListValue{Values: items}),
	}}
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func num(s *structpb.Struct, key string) (float64, bool) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, false
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return n.NumberValue, true
}
