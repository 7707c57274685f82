package tui

import (
	"errors"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/termqapp/termq/internal/mqtt/session"
)

// formKind identifies which modal form is open.
type formKind int

const (
	formNone formKind = iota
	formSubscribe
	formUnsubscribe
	formPublish
)

// formData holds the values a form edits in place.
type formData struct {
	Filter  string
	Topic   string
	Payload string
	QoS     byte
	Retain  bool
}

func qosSelect(v *byte) *huh.Select[byte] {
	return huh.NewSelect[byte]().
		Title("QoS").
		Options(
			huh.NewOption("0  at most once", byte(0)),
			huh.NewOption("1  at least once", byte(1)),
			huh.NewOption("2  exactly once", byte(2)),
		).
		Value(v)
}

func newSubscribeForm(d *formData) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Topic filter").
				Placeholder("sensors/+/temp").
				Validate(session.ValidateFilter).
				Value(&d.Filter),
			qosSelect(&d.QoS),
		),
	)
}

func newUnsubscribeForm(d *formData, subs []session.Subscription) *huh.Form {
	opts := make([]huh.Option[string], 0, len(subs))
	for _, sub := range subs {
		opts = append(opts, huh.NewOption(sub.Filter, sub.Filter))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Unsubscribe").
				Options(opts...).
				Value(&d.Filter),
		),
	)
}

func validateTopic(topic string) error {
	if strings.TrimSpace(topic) == "" {
		return errors.New("topic is required")
	}
	if strings.ContainsAny(topic, "+#") {
		return errors.New("wildcards are not allowed in publish topics")
	}
	return nil
}

func newPublishForm(d *formData) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Topic").
				Placeholder("actuators/relay/1").
				Validate(validateTopic).
				Value(&d.Topic),
			huh.NewText().
				Title("Payload").
				Value(&d.Payload),
			qosSelect(&d.QoS),
			huh.NewConfirm().
				Title("Retain").
				Affirmative("yes").
				Negative("no").
				Value(&d.Retain),
		),
	)
}
