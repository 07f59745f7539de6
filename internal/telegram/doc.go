// Package telegram implements the Telegram channel connector on top of
// go-telegram-bot-api.
//
// The connector long-polls getUpdates, turns text messages into
// channels.InboundMessage values for the configured handler and sends replies
// with bounded retries. Rate limits (429), server errors (5xx) and transport
// failures are retried with exponential backoff; other API errors fail
// immediately.
//
// An api_base_url starting with "mock://" swaps the Bot API for an in-process
// fake whose behaviour is driven by markers in the outgoing text:
// "[telegram-outage]", "[telegram-permanent]" and "[telegram-retry:N]".
package telegram
