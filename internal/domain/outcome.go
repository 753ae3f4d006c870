package domain

// DeliveryOutcome partitions one cycle's recipients into the addresses that
// were handed to the transport successfully and the addresses that were not,
// keyed by their last error detail. Every recipient of the cycle lands in
// exactly one of the two collections.
type DeliveryOutcome struct {
	Sent   []string
	Failed map[string]string
}

func NewDeliveryOutcome() DeliveryOutcome {
	return DeliveryOutcome{
		Sent:   []string{},
		Failed: map[string]string{},
	}
}

// Total is the number of recipients accounted for by the outcome.
func (o DeliveryOutcome) Total() int {
	return len(o.Sent) + len(o.Failed)
}

// MarkSent moves a recipient into the sent partition, dropping any failure
// detail recorded earlier (e.g. a batch rejection cleared by a retry).
func (o *DeliveryOutcome) MarkSent(recipient string) {
	delete(o.Failed, recipient)
	o.Sent = append(o.Sent, recipient)
}

// MarkFailed records or overwrites the failure detail for a recipient.
func (o *DeliveryOutcome) MarkFailed(recipient, detail string) {
	if detail == "" {
		detail = "send failed"
	}
	o.Failed[recipient] = detail
}
