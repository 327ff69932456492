//go:build !whisper

package transcriber

import "errors"

var ErrWhisperUnavailable = errors.New("whisper backend not compiled in (build with -tags whisper)")

func NewWhisper(Options) (Recognizer, error) {
	return nil, ErrWhisperUnavailable
}
