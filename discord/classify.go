package discord

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// Class partitions gateway failures by what the reconciler should do with
// them. NotFound and Forbidden are permanent for the message in question;
// Transient failures are retried on the next tick.
type Class int

const (
	ClassTransient Class = iota
	ClassNotFound
	ClassForbidden
)

func (c Class) String() string {
	switch c {
	case ClassNotFound:
		return "not_found"
	case ClassForbidden:
		return "forbidden"
	default:
		return "transient"
	}
}

// Discord JSON error codes, https://discord.com/developers/docs/topics/opcodes-and-status-codes
const (
	codeUnknownChannel     = 10003
	codeUnknownGuild       = 10004
	codeUnknownMessage     = 10008
	codeMissingAccess      = 50001
	codeMissingPermissions = 50013
)

// Classify maps an error returned by a Gateway call to its Class.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) {
		if rerr.Message != nil {
			switch rerr.Message.Code {
			case codeUnknownChannel, codeUnknownGuild, codeUnknownMessage:
				return ClassNotFound
			case codeMissingAccess, codeMissingPermissions:
				return ClassForbidden
			}
		}
		if rerr.Response != nil {
			switch rerr.Response.StatusCode {
			case http.StatusNotFound:
				return ClassNotFound
			case http.StatusForbidden:
				return ClassForbidden
			}
		}
		return ClassTransient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransient
	}
	return ClassTransient
}
