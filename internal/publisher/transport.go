package publisher

// Transport is the narrow interface Publisher needs from the AMQP layer:
// publish one message body to the durable data topic exchange under a
// routing key derived from messageType ("tickers", "funding_rates",
// "statistics"). Kept separate from the concrete amqp091-go client so
// Publisher can be tested against an in-memory fake.
type Transport interface {
	PublishData(messageType string, body []byte) error
}
