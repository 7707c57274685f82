package session

// CommandKind discriminates the commands the presentation layer may submit.
type CommandKind int

// Command kinds.
const (
	CommandConnect CommandKind = iota
	CommandDisconnect
	CommandSubscribe
	CommandUnsubscribe
	CommandPublish
	CommandClearTopic
)

// String returns the command name for logs.
func (k CommandKind) String() string {
	switch k {
	case CommandConnect:
		return "connect"
	case CommandDisconnect:
		return "disconnect"
	case CommandSubscribe:
		return "subscribe"
	case CommandUnsubscribe:
		return "unsubscribe"
	case CommandPublish:
		return "publish"
	case CommandClearTopic:
		return "clear-topic"
	default:
		return "unknown"
	}
}

// Command is a single presentation-layer request. Commands are applied to
// the wire in submission order.
type Command struct {
	Kind CommandKind

	// Endpoint is set for connect commands.
	Endpoint *Endpoint

	// Filter and QoS are set for subscribe commands; unsubscribe uses only
	// Filter.
	Filter string
	QoS    byte

	// Topic, Payload, Retain (and QoS above) are set for publish commands;
	// clear-topic uses only Topic.
	Topic   string
	Payload []byte
	Retain  bool
}

// Connect returns a command that starts a connection to ep.
func Connect(ep Endpoint) Command {
	return Command{Kind: CommandConnect, Endpoint: &ep}
}

// Disconnect returns a command that cleanly shuts the connection down and
// cancels any pending reconnect.
func Disconnect() Command {
	return Command{Kind: CommandDisconnect}
}

// Subscribe returns a command that adds or updates a topic filter
// subscription.
func Subscribe(filter string, qos byte) Command {
	return Command{Kind: CommandSubscribe, Filter: filter, QoS: qos}
}

// Unsubscribe returns a command that removes a topic filter subscription.
func Unsubscribe(filter string) Command {
	return Command{Kind: CommandUnsubscribe, Filter: filter}
}

// Publish returns a command that publishes payload to topic.
func Publish(topic string, payload []byte, qos byte, retain bool) Command {
	return Command{Kind: CommandPublish, Topic: topic, Payload: payload, QoS: qos, Retain: retain}
}

// ClearTopic returns a command that drops a topic's local history and
// retained value. It is purely local; the broker is not touched.
func ClearTopic(topic string) Command {
	return Command{Kind: CommandClearTopic, Topic: topic}
}
