package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"testing"

	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/yegors/co-call/internal/calls"
	"github.com/yegors/co-call/internal/conversation"
	"github.com/yegors/co-call/pkg/logger"
)

type fakeCreator struct {
	params *openapi.CreateCallParams
	sid    string
	err    error
}

func (f *fakeCreator) CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	sid := f.sid
	return &openapi.ApiV2010Call{Sid: &sid}, nil
}

func TestPlaceCall_SetsParameters(t *testing.T) {
	creator := &fakeCreator{sid: "CA123"}
	placer := newTwilioPlacer(creator, "+15550000000", logger.NewNop())

	sid, err := placer.PlaceCall(context.Background(), "+15551234567",
		"https://example.com/handle-call", "https://example.com/call-status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid != "CA123" {
		t.Fatalf("sid = %q", sid)
	}

	p := creator.params
	if *p.To != "+15551234567" || *p.From != "+15550000000" {
		t.Errorf("to/from = %q/%q", *p.To, *p.From)
	}
	if *p.Url != "https://example.com/handle-call" {
		t.Errorf("url = %q", *p.Url)
	}
	if *p.StatusCallback != "https://example.com/call-status" {
		t.Errorf("status callback = %q", *p.StatusCallback)
	}
	if len(*p.StatusCallbackEvent) != len(StatusCallbackEvents) {
		t.Errorf("status events = %v", *p.StatusCallbackEvent)
	}
}

func TestPlaceCall_ProviderErrorMessage(t *testing.T) {
	creator := &fakeCreator{err: &twclient.TwilioRestError{
		Code:    21211,
		Status:  400,
		Message: "Invalid 'To' Phone Number",
	}}
	placer := newTwilioPlacer(creator, "+15550000000", logger.NewNop())

	_, err := placer.PlaceCall(context.Background(), "nope", "https://example.com/handle-call", "")
	var placementErr *PlacementError
	if !errors.As(err, &placementErr) {
		t.Fatalf("expected *PlacementError, got %v", err)
	}
	if placementErr.Code != 21211 || placementErr.Status != 400 {
		t.Errorf("code/status = %d/%d", placementErr.Code, placementErr.Status)
	}
	if err.Error() != "Invalid 'To' Phone Number" {
		t.Errorf("message = %q", err.Error())
	}
	if creator.params.StatusCallback != nil {
		t.Errorf("status callback should not be set without a URL")
	}
}

func TestPlaceCall_CanceledContext(t *testing.T) {
	creator := &fakeCreator{sid: "CA1"}
	placer := newTwilioPlacer(creator, "+1", logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := placer.PlaceCall(ctx, "+2", "https://example.com", ""); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if creator.params != nil {
		t.Fatal("provider must not be called with a canceled context")
	}
}

// node is a generic TwiML element
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []node     `xml:",any"`
}

func (n node) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func parseTwiML(t *testing.T, doc string) node {
	t.Helper()
	var root node
	if err := xml.Unmarshal([]byte(doc), &root); err != nil {
		t.Fatalf("invalid TwiML %q: %v", doc, err)
	}
	if root.XMLName.Local != "Response" {
		t.Fatalf("root element = %q", root.XMLName.Local)
	}
	return root
}

func names(nodes []node) string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.XMLName.Local
	}
	return strings.Join(out, ",")
}

func actionURL(position int) string {
	return fmt.Sprintf("https://example.com/process-call?question_index=%d", position)
}

func TestRender_ListeningTurn(t *testing.T) {
	r := NewRenderer(Config{PauseSeconds: 1})
	doc, err := r.Render(conversation.Turn{
		State:      conversation.StateAwaitingResponse,
		Utterances: []string{"Hello, this is Assort Health.", "What is your name?"},
		Position:   0,
		Listen:     true,
	}, RenderOptions{ActionURL: actionURL})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	root := parseTwiML(t, doc)
	if got := names(root.Nodes); got != "Pause,Gather,Redirect" {
		t.Fatalf("verbs = %s", got)
	}

	gather := root.Nodes[1]
	if gather.attr("input") != "speech" || gather.attr("speechTimeout") != "auto" {
		t.Errorf("gather attrs = %+v", gather.Attrs)
	}
	if gather.attr("language") != "en-US" || gather.attr("enhanced") != "true" {
		t.Errorf("gather attrs = %+v", gather.Attrs)
	}
	if gather.attr("action") != actionURL(0) {
		t.Errorf("gather action = %q", gather.attr("action"))
	}
	if names(gather.Nodes) != "Say,Say" || strings.TrimSpace(gather.Nodes[1].Text) != "What is your name?" {
		t.Errorf("gather content = %+v", gather.Nodes)
	}

	redirect := root.Nodes[2]
	if strings.TrimSpace(redirect.Text) != actionURL(0) {
		t.Errorf("redirect = %q", redirect.Text)
	}
}

func TestRender_FinishedTurnHangsUp(t *testing.T) {
	r := NewRenderer(Config{})
	doc, err := r.Render(conversation.Turn{
		State:      conversation.StateFinished,
		Utterances: []string{"Goodbye."},
		Position:   2,
		Hangup:     true,
	}, RenderOptions{ActionURL: actionURL})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	root := parseTwiML(t, doc)
	if got := names(root.Nodes); got != "Say,Hangup" {
		t.Fatalf("verbs = %s", got)
	}
}

func TestRender_StartsStream(t *testing.T) {
	r := NewRenderer(Config{})
	doc, err := r.Render(conversation.Turn{
		Utterances: []string{"Hi"},
		Listen:     true,
	}, RenderOptions{ActionURL: actionURL, StreamURL: "wss://example.com/media-stream"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	root := parseTwiML(t, doc)
	if root.Nodes[0].XMLName.Local != "Start" {
		t.Fatalf("first verb = %s", root.Nodes[0].XMLName.Local)
	}
	stream := root.Nodes[0].Nodes[0]
	if stream.XMLName.Local != "Stream" || stream.attr("url") != "wss://example.com/media-stream" {
		t.Fatalf("stream = %+v", stream)
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    calls.Status
		wantErr bool
	}{
		{"queued", calls.StatusInitiated, false},
		{"ringing", calls.StatusRinging, false},
		{"In-Progress", calls.StatusInProgress, false},
		{"answered", calls.StatusInProgress, false},
		{"no-answer", calls.StatusNoAnswer, false},
		{"exploded", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeStatus(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("NormalizeStatus(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data := fullURL
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestSignatureValidator(t *testing.T) {
	const token = "secret"
	fullURL := "https://example.com/process-call?question_index=1"
	form := url.Values{"CallSid": {"CA1"}, "SpeechResult": {"March 3rd"}}

	v := NewSignatureValidator(token)
	if !v.Validate(fullURL, form, sign(token, fullURL, form)) {
		t.Fatal("valid signature rejected")
	}
	if v.Validate(fullURL, form, sign("other", fullURL, form)) {
		t.Fatal("signature with wrong token accepted")
	}
	if v.Validate(fullURL, form, "") {
		t.Fatal("missing signature accepted")
	}
}
