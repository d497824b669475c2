// Package feed fetches and tokenizes remote indicator feeds.
//
// Fetcher wraps one reusable HTTP client per feed and streams the feed
// body line by line, so a multi-megabyte blocklist is never held in
// memory whole. Normalizer applies the configured line filter (trim,
// comment prefix, optional split/select). Transformer is the pluggable
// hook turning a surviving line into an (indicator, attributes) pair; the
// default takes the first whitespace-delimited field and copies the
// feed's static attribute map.
package feed
