package domain

import "errors"

const MaxConferenceIDLen = 64

var (
	ErrConferenceIDEmpty   = errors.New("conference id empty")
	ErrConferenceIDTooLong = errors.New("conference id too long")
)

type ConferenceID string

func NewConferenceID(raw string) (ConferenceID, error) {
	if len(raw) == 0 {
		return "", ErrConferenceIDEmpty
	}
	if len(raw) > MaxConferenceIDLen {
		return "", ErrConferenceIDTooLong
	}
	return ConferenceID(raw), nil
}
