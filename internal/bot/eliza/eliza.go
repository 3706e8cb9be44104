// Package eliza is a pattern-matching therapist bot in the Rogerian
// tradition. It needs no model backend, answers instantly and behaves
// deterministically, which makes it the default responder.
package eliza

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"
)

// rule pairs trigger keywords with reply templates. The %s slot receives
// the pronoun-reflected remainder of the utterance after the keyword.
// Rules are ordered: the first keyword found in the utterance wins.
type rule struct {
	keywords  []string
	responses []string
}

var rules = []rule{
	{
		keywords: []string{"i need"},
		responses: []string{
			"Why do you need%s?",
			"Would it really help you to get%s?",
			"Are you sure you need%s?",
		},
	},
	{
		keywords: []string{"why don't you", "why dont you"},
		responses: []string{
			"Do you really think I don't%s?",
			"Perhaps eventually I will%s.",
			"Do you really want me to%s?",
		},
	},
	{
		keywords: []string{"why can't i", "why cant i"},
		responses: []string{
			"Do you think you should be able to%s?",
			"If you could%s, what would you do?",
			"I don't know. Why can't you%s?",
		},
	},
	{
		keywords: []string{"i can't", "i cannot", "i cant"},
		responses: []string{
			"How do you know you can't%s?",
			"Perhaps you could%s if you tried.",
			"What would it take for you to%s?",
		},
	},
	{
		keywords: []string{"i am", "i'm"},
		responses: []string{
			"Did you come to me because you are%s?",
			"How long have you been%s?",
			"How do you feel about being%s?",
		},
	},
	{
		keywords: []string{"i feel"},
		responses: []string{
			"Tell me more about these feelings.",
			"Do you often feel%s?",
			"When do you usually feel%s?",
		},
	},
	{
		keywords: []string{"i want"},
		responses: []string{
			"What would it mean to you if you got%s?",
			"Why do you want%s?",
			"Suppose you got%s soon. What then?",
		},
	},
	{
		keywords: []string{"mother", "father", "sister", "brother", "family"},
		responses: []string{
			"Tell me more about your family.",
			"How do you get along with your family?",
			"What does your family think of this?",
		},
	},
	{
		keywords: []string{"dream", "dreams"},
		responses: []string{
			"What does that dream suggest to you?",
			"Do you dream often?",
			"Have you ever fantasized about that while awake?",
		},
	},
	{
		keywords: []string{"computer", "computers", "machine", "machines", "robot"},
		responses: []string{
			"Do computers worry you?",
			"Why do you mention computers?",
			"What do you think machines have to do with your problem?",
		},
	},
	{
		keywords: []string{"sorry"},
		responses: []string{
			"Please don't apologize.",
			"Apologies are not necessary.",
			"What feelings do you have when you apologize?",
		},
	},
	{
		keywords: []string{"because"},
		responses: []string{
			"Is that the real reason?",
			"What other reasons come to mind?",
			"Does that reason apply to anything else?",
		},
	},
	{
		keywords: []string{"maybe", "perhaps"},
		responses: []string{
			"You don't seem quite certain.",
			"Why the uncertain tone?",
			"Can't you be more positive?",
		},
	},
	{
		keywords: []string{"always"},
		responses: []string{
			"Can you think of a specific example?",
			"When?",
			"Really, always?",
		},
	},
	{
		keywords: []string{"yes"},
		responses: []string{
			"You seem quite sure.",
			"I see.",
			"I understand.",
		},
	},
	{
		keywords: []string{"no"},
		responses: []string{
			"Why not?",
			"Are you saying no just to be negative?",
			"You are being a bit negative.",
		},
	},
	{
		keywords: []string{"you are", "you're"},
		responses: []string{
			"What makes you think I am%s?",
			"Does it please you to believe I am%s?",
			"Perhaps you would like me to be%s.",
		},
	},
	{
		keywords: []string{"you"},
		responses: []string{
			"We were discussing you, not me.",
			"Why do you say that about me?",
			"Why does that concern you?",
		},
	},
	{
		keywords: []string{"hello", "hi", "hey", "howdy"},
		responses: []string{
			"How do you do. Please state your problem.",
			"Hi. What seems to be your problem?",
		},
	},
}

var defaults = []string{
	"Please tell me more.",
	"Let's change focus a bit. Tell me about your family.",
	"Can you elaborate on that?",
	"Why do you say that?",
	"I see.",
	"Very interesting.",
	"I'm not sure I understand you fully.",
}

// reflections swaps first and second person so fragments of the user's
// words can be echoed back grammatically.
var reflections = map[string]string{
	"am":       "are",
	"was":      "were",
	"i":        "you",
	"i'd":      "you would",
	"i've":     "you have",
	"i'll":     "you will",
	"i'm":      "you are",
	"my":       "your",
	"me":       "you",
	"mine":     "yours",
	"myself":   "yourself",
	"you":      "I",
	"you'd":    "I would",
	"you've":   "I have",
	"you'll":   "I will",
	"you're":   "I am",
	"your":     "my",
	"yours":    "mine",
	"yourself": "myself",
}

// Bot rotates through each rule's responses so repeated prompts do not
// produce identical replies. A fresh Bot is fully deterministic.
type Bot struct {
	mu   sync.Mutex
	next map[int]int
}

func New() *Bot {
	return &Bot{next: make(map[int]int)}
}

// Respond picks the first rule with a keyword present in the utterance
// and instantiates its next response template. Utterances matching
// nothing get a generic prompt to continue.
func (b *Bot) Respond(_ context.Context, _ string, input string) (string, error) {
	text := normalize(input)
	for i, r := range rules {
		for _, kw := range r.keywords {
			idx := findWord(text, kw)
			if idx < 0 {
				continue
			}
			fragment := reflect(strings.TrimSpace(text[idx+len(kw):]))
			if reply, ok := b.instantiate(i, r.responses, fragment); ok {
				return reply, nil
			}
		}
	}
	return b.rotate(len(rules), defaults), nil
}

// instantiate renders the rule's next template. Templates that need a
// fragment are skipped when the utterance ended at the keyword; if none
// of the rule's templates fit, the match is abandoned.
func (b *Bot) instantiate(ruleIdx int, responses []string, fragment string) (string, bool) {
	for range responses {
		tmpl := b.rotate(ruleIdx, responses)
		if !strings.Contains(tmpl, "%s") {
			return tmpl, true
		}
		if fragment != "" {
			return fmt.Sprintf(tmpl, " "+fragment), true
		}
	}
	return "", false
}

func (b *Bot) rotate(key int, options []string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.next[key]
	b.next[key] = (i + 1) % len(options)
	return options[i]
}

// findWord locates kw in text on word boundaries, so "no" does not fire
// inside "know".
func findWord(text, kw string) int {
	for start := 0; start <= len(text)-len(kw); {
		idx := strings.Index(text[start:], kw)
		if idx < 0 {
			return -1
		}
		idx += start
		end := idx + len(kw)
		startOK := idx == 0 || text[idx-1] == ' '
		endOK := end == len(text) || text[end] == ' '
		if startOK && endOK {
			return idx
		}
		start = idx + 1
	}
	return -1
}

// normalize lower-cases the utterance and turns punctuation into word
// breaks so keyword lookup and reflection see clean text. Apostrophes
// survive for the sake of contractions.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'':
			return unicode.ToLower(r)
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func reflect(fragment string) string {
	words := strings.Fields(fragment)
	for i, w := range words {
		if r, ok := reflections[w]; ok {
			words[i] = r
		}
	}
	return strings.Join(words, " ")
}
