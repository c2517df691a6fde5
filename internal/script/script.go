// Package script provides the fixed conversation script: the ordered topics the
// call walks through and the instruction that shapes every generated reply.
package script

import (
	"fmt"
	"strings"
)

// Default wording used when the configuration leaves a field empty
const (
	DefaultInstruction = "You are a friendly receptionist speaking with a patient over the phone. " +
		"Rephrase the topic you are given as one short, natural question that can be read aloud. " +
		"Reply with the question only."
	DefaultGreeting = "Hello, this is Assort Health."
	DefaultClosing  = "Thank you for answering all our questions. Have a great day!"
	DefaultReprompt = "Sorry, I didn't catch that."
	DefaultFallback = "I'm sorry, I had trouble with that."
)

// DefaultTopics is the intake script used when none is configured
var DefaultTopics = []string{
	"What is your full name?",
	"What is your date of birth?",
	"What is your reason for calling?",
}

// Config is the [script] configuration section
type Config struct {
	Instruction string   `toml:"instruction"`
	Topics      []string `toml:"topics"`
	Greeting    string   `toml:"greeting"`
	Closing     string   `toml:"closing"`
	Reprompt    string   `toml:"reprompt"`
	Fallback    string   `toml:"fallback"`
}

// Script is immutable once built. Accessors return copies where needed.
type Script struct {
	instruction string
	topics      []string
	greeting    string
	closing     string
	reprompt    string
	fallback    string
}

// New builds a Script, applying defaults to empty wording. Topics may be empty,
// but no individual topic may be blank.
func New(cfg Config) (*Script, error) {
	topics := make([]string, 0, len(cfg.Topics))
	for i, topic := range cfg.Topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			return nil, fmt.Errorf("script topic %d is empty", i)
		}
		topics = append(topics, topic)
	}

	return &Script{
		instruction: orDefault(cfg.Instruction, DefaultInstruction),
		topics:      topics,
		greeting:    orDefault(cfg.Greeting, DefaultGreeting),
		closing:     orDefault(cfg.Closing, DefaultClosing),
		reprompt:    orDefault(cfg.Reprompt, DefaultReprompt),
		fallback:    orDefault(cfg.Fallback, DefaultFallback),
	}, nil
}

// Instruction is the system instruction passed with every generation request
func (s *Script) Instruction() string { return s.instruction }

// Len is the number of topics; a position equal to Len is terminal
func (s *Script) Len() int { return len(s.topics) }

// Topic returns the topic at position i
func (s *Script) Topic(i int) (string, bool) {
	if i < 0 || i >= len(s.topics) {
		return "", false
	}
	return s.topics[i], true
}

// Topics returns a copy of the ordered topics
func (s *Script) Topics() []string {
	out := make([]string, len(s.topics))
	copy(out, s.topics)
	return out
}

func (s *Script) Greeting() string { return s.greeting }
func (s *Script) Closing() string  { return s.closing }
func (s *Script) Reprompt() string { return s.reprompt }
func (s *Script) Fallback() string { return s.fallback }

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
