// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines the process-wide message translation hook. All
// user-facing messages pass through it at error-construction time.
package core

// Translator maps a raw message to its localized form.
type Translator func(message string) string

// translate is the active hook. The default is identity.
var translate Translator = func(message string) string { return message }

// SetTranslator replaces the process-wide translation hook. It is expected
// to be called once at startup, before concurrent use; the setter itself is
// not synchronized.
func SetTranslator(fn Translator) {
	if fn == nil {
		fn = func(message string) string { return message }
	}
	translate = fn
}

func tr(message string) string {
	return translate(message)
}
