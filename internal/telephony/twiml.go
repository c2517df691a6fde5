package telephony

import (
	"strconv"

	"github.com/twilio/twilio-go/twiml"
	"github.com/yegors/co-call/internal/conversation"
)

const (
	defaultLanguage = "en-US"
	speechInput     = "speech"
)

// RenderOptions carries the per-request parts of a response document
type RenderOptions struct {
	// ActionURL builds the speech callback URL for a conversation position
	ActionURL func(position int) string
	// StreamURL, when set, starts a media stream before anything is spoken
	StreamURL string
}

// Renderer turns conversation turns into TwiML documents
type Renderer struct {
	voice    string
	language string
	pause    int
}

// NewRenderer creates a renderer from the [twilio] voice settings
func NewRenderer(config Config) *Renderer {
	language := config.Language
	if language == "" {
		language = defaultLanguage
	}
	return &Renderer{
		voice:    config.Voice,
		language: language,
		pause:    config.PauseSeconds,
	}
}

// Render produces exactly one response document for a turn. A listening turn
// wraps its utterances in a speech Gather posting to the next position and
// follows it with a redirect to the same position, so a window that closes
// without a result re-prompts instead of advancing.
func (r *Renderer) Render(turn conversation.Turn, opts RenderOptions) (string, error) {
	verbs := make([]twiml.Element, 0, len(turn.Utterances)+4)

	if opts.StreamURL != "" {
		verbs = append(verbs, &twiml.VoiceStart{
			InnerElements: []twiml.Element{&twiml.VoiceStream{Url: opts.StreamURL}},
		})
	}
	if r.pause > 0 {
		verbs = append(verbs, &twiml.VoicePause{Length: strconv.Itoa(r.pause)})
	}

	says := make([]twiml.Element, 0, len(turn.Utterances))
	for _, utterance := range turn.Utterances {
		says = append(says, &twiml.VoiceSay{
			Message:  utterance,
			Voice:    r.voice,
			Language: r.language,
		})
	}

	if turn.Listen && opts.ActionURL != nil {
		action := opts.ActionURL(turn.Position)
		verbs = append(verbs,
			&twiml.VoiceGather{
				Input:         speechInput,
				Action:        action,
				Method:        "POST",
				Language:      r.language,
				SpeechTimeout: "auto",
				Enhanced:      "true",
				InnerElements: says,
			},
			&twiml.VoiceRedirect{Url: action, Method: "POST"},
		)
		return twiml.Voice(verbs)
	}

	verbs = append(verbs, says...)
	if turn.Hangup {
		verbs = append(verbs, &twiml.VoiceHangup{})
	}
	return twiml.Voice(verbs)
}

// Empty renders a response with no verbs, used to acknowledge callbacks
func Empty() (string, error) {
	return twiml.Voice(nil)
}
