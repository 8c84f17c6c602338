package bus

import (
	"strings"

	"github.com/soloist-io/soloist/kv"
)

// Subject conventions:
//
//	rpc.{target}.{method}        RPC requests (queue group: target)
//	events.{domain}.{type}       domain events
//	cmd.{target}.{command}       commands (queue group: target)
//	cmd.progress.{command_id}    progress reports for one tracked command
//	cmd.result.{command_id}      terminal result for one tracked command
//
// Raw identifiers pass through the key codec, so names with spaces, dots,
// or other transport-hostile characters become valid subject tokens and
// distinct names never collide.

const (
	rpcPrefix         = "rpc"
	eventsPrefix      = "events"
	commandPrefix     = "cmd"
	cmdProgressPrefix = "cmd.progress"
	cmdResultPrefix   = "cmd.result"
)

// RPCSubject builds the request subject for target/method.
func RPCSubject(target, method string) string {
	return rpcPrefix + "." + kv.EncodeKey(target) + "." + kv.EncodeKey(method)
}

// EventSubject builds the publish subject for a domain event.
func EventSubject(domain, eventType string) string {
	return eventsPrefix + "." + kv.EncodeKey(domain) + "." + kv.EncodeKey(eventType)
}

// EventPattern builds a subscription pattern. Wildcard tokens "*" and ">"
// pass through unencoded; everything else is sanitized like a publish
// subject, so a pattern built from the same raw names as EventSubject
// matches it.
func EventPattern(parts ...string) string {
	tokens := make([]string, 0, len(parts)+1)
	tokens = append(tokens, eventsPrefix)
	for _, part := range parts {
		if part == "*" || part == ">" {
			tokens = append(tokens, part)
			continue
		}
		tokens = append(tokens, kv.EncodeKey(part))
	}

	return strings.Join(tokens, ".")
}

// CommandSubject builds the dispatch subject for target/command.
func CommandSubject(target, command string) string {
	return commandPrefix + "." + kv.EncodeKey(target) + "." + kv.EncodeKey(command)
}

// progressSubject is where a tracked command's intermediate reports go.
func progressSubject(commandID string) string {
	return cmdProgressPrefix + "." + kv.EncodeKey(commandID)
}

// resultSubject is where a command's terminal result goes.
func resultSubject(commandID string) string {
	return cmdResultPrefix + "." + kv.EncodeKey(commandID)
}

// queueGroup names the queue group shared by all instances of a service.
func queueGroup(target string) string {
	return kv.EncodeKey(target)
}
