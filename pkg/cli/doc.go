// Package cli implements tallyctl, the operator command line for tally.
//
// # Commands
//
//	tallyctl migrate -config tally.yaml
//	tallyctl restore -type Receipt -id 6f1c... -user u-42
//	tallyctl export -format csv -since 2024-01-01T00:00:00Z -out audit.csv
//	tallyctl purge-auth-audit -days 180
//
// Every command accepts -config; TALLY_* environment variables override the
// file the same way they do for the server.
package cli
