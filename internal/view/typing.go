package view

import "sync"

// TypingText is the indicator text for username.
func TypingText(username string) string {
	return username + " is typing..."
}

// TypingIndicator tracks which remote user is shown as typing and reports
// changes to onChange ("" when hidden).
type TypingIndicator struct {
	mu       sync.Mutex
	current  string
	onChange func(text string)
}

func NewTypingIndicator(onChange func(text string)) *TypingIndicator {
	if onChange == nil {
		onChange = func(string) {}
	}
	return &TypingIndicator{onChange: onChange}
}

func (i *TypingIndicator) Show(username string) {
	i.mu.Lock()
	changed := i.current != username
	i.current = username
	i.mu.Unlock()
	if changed {
		i.onChange(TypingText(username))
	}
}

func (i *TypingIndicator) Hide() {
	i.mu.Lock()
	changed := i.current != ""
	i.current = ""
	i.mu.Unlock()
	if changed {
		i.onChange("")
	}
}

// Current returns the user shown, or "" when hidden.
func (i *TypingIndicator) Current() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current
}
