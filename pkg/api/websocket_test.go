package api

import (
	"context"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/spotmargin/pkg/app/core/events"
)

func TestChannels(t *testing.T) {
	owner := common.HexToAddress("0xAbCdEf0000000000000000000000000000000001")
	account := "account:0xabcdef0000000000000000000000000000000001"
	tests := []struct {
		name string
		e    events.Event
		want []string
	}{
		{"order", events.Event{Type: events.OrderCreated, Owner: owner, Pair: 3}, []string{"pair:3", account}},
		{"deposit", events.Event{Type: events.MarginDeposited, Owner: owner}, []string{account}},
		{"listing", events.Event{Type: events.PairAdded, Pair: 2}, []string{"pair:2", ChannelExchange}},
		{"pause", events.Event{Type: events.OperationPaused}, []string{ChannelExchange}},
		{"account accrual", events.Event{Type: events.InterestAccrued, Owner: owner}, []string{account}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Channels(tt.e); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Channels = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeChannel(t *testing.T) {
	good := map[string]string{
		"events":  "events",
		"pair:7":  "pair:7",
		"account:0xABCDEF0000000000000000000000000000000001": "account:0xabcdef0000000000000000000000000000000001",
	}
	for in, want := range good {
		if got, err := normalizeChannel(in); err != nil || got != want {
			t.Errorf("normalizeChannel(%q) = %q, %v", in, got, err)
		}
	}
	for _, in := range []string{"pair:0", "pair:x", "account:bob", "orderbook:BTC-USDT"} {
		if _, err := normalizeChannel(in); err == nil {
			t.Errorf("normalizeChannel(%q) accepted", in)
		}
	}
}

func TestHubDeliversSubscribedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(zap.NewNop().Sugar())
	go hub.Run(ctx)

	srv := NewServer(nil, hub, nil, zap.NewNop().Sugar())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{"pair:1"}}); err != nil {
		t.Fatal(err)
	}
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != "subscribed" {
		t.Fatalf("ack = %+v, %v", ack, err)
	}

	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	hub.Publish(ctx, []events.Event{
		{Seq: 1, Type: events.MarginDeposited, Owner: owner, Amount: 10},
		{Seq: 2, Type: events.OrderCreated, Owner: owner, Pair: 1, Order: 4},
	})

	var msg struct {
		Type    string       `json:"type"`
		Channel string       `json:"channel"`
		Data    events.Event `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Type != "event" || msg.Channel != "pair:1" || msg.Data.Order != 4 || msg.Data.Seq != 2 {
		t.Fatalf("message = %+v", msg)
	}
	if hub.Clients() != 1 {
		t.Fatalf("clients = %d", hub.Clients())
	}
}
