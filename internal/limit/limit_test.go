package limit

import (
	"errors"
	"testing"

	"actorcore/internal/message"
)

type msgOne struct{ Text string }
type msgTwo struct{ Text string }

type captureDeliverer struct {
	delivered []message.Message
	depths    []int
}

func (c *captureDeliverer) DeliverAtDepth(mode message.DeliveryMode, msg message.Message, depth int) error {
	c.delivered = append(c.delivered, msg)
	c.depths = append(c.depths, depth)
	return nil
}

func TestLimitAllowsWithinQuota(t *testing.T) {
	reg := NewRegistry(false)
	typ := message.TypeOf[msgOne]()
	if err := reg.SetLimit(typ, 2, Throw, nil); err != nil {
		t.Fatalf("set limit: %v", err)
	}
	for i := 0; i < 2; i++ {
		outcome, err := reg.Check(typ, message.NewClassical(msgOne{}, message.Immutable, nil), 0)
		if err != nil || outcome != OutcomeAllow {
			t.Fatalf("expected allow, got %v err=%v", outcome, err)
		}
	}
}

func TestLimitThrowsOnOverflow(t *testing.T) {
	reg := NewRegistry(false)
	typ := message.TypeOf[msgOne]()
	reg.SetLimit(typ, 1, Throw, nil)
	reg.Check(typ, message.NewClassical(msgOne{}, message.Immutable, nil), 0)
	_, err := reg.Check(typ, message.NewClassical(msgOne{}, message.Immutable, nil), 0)
	if !errors.Is(err, ErrOverLimit) {
		t.Fatalf("expected ErrOverLimit, got %v", err)
	}
}

// TestLimitThenTransform exercises the S5 end-to-end scenario from
// spec.md §8: a limit of one on msg_one transforms the second delivery
// into msg_two carrying a decorated payload.
func TestLimitThenTransform(t *testing.T) {
	reg := NewRegistry(false)
	typ := message.TypeOf[msgOne]()
	target := &captureDeliverer{}

	transform := func(original message.Message) (message.Message, Deliverer) {
		text := original.Payload().(msgOne).Text
		return message.NewClassical(msgTwo{Text: "[" + text + "]"}, message.Immutable, nil), target
	}
	reg.SetLimit(typ, 1, Transform, transform)

	first := message.NewClassical(msgOne{Text: "One"}, message.Immutable, nil)
	outcome, err := reg.Check(typ, first, 0)
	if err != nil || outcome != OutcomeAllow {
		t.Fatalf("expected first message allowed, got %v err=%v", outcome, err)
	}

	second := message.NewClassical(msgOne{Text: "Two"}, message.Immutable, nil)
	outcome, err = reg.Check(typ, second, 0)
	if err != nil || outcome != OutcomeTransformed {
		t.Fatalf("expected transform outcome, got %v err=%v", outcome, err)
	}
	if len(target.delivered) != 1 {
		t.Fatalf("expected transform to deliver one substitute message")
	}
	if got := target.delivered[0].Payload().(msgTwo).Text; got != "[Two]" {
		t.Fatalf("expected transformed text [Two], got %q", got)
	}
}

func TestReleaseDecrementsExactlyOnce(t *testing.T) {
	reg := NewRegistry(false)
	typ := message.TypeOf[msgOne]()
	reg.SetLimit(typ, 5, Throw, nil)
	reg.Check(typ, message.NewClassical(msgOne{}, message.Immutable, nil), 0)
	if reg.Current(typ) != 1 {
		t.Fatalf("expected counter 1 after check")
	}
	reg.Release(typ)
	if reg.Current(typ) != 0 {
		t.Fatalf("expected counter 0 after release")
	}
}

func TestDefaultLimitAppliesToUnlistedTypes(t *testing.T) {
	reg := NewRegistry(false)
	reg.SetLimit(message.TypeOf[AnyUnspecifiedMessage](), 1, Throw, nil)
	typ := message.TypeOf[msgOne]()
	reg.Check(typ, message.NewClassical(msgOne{}, message.Immutable, nil), 0)
	_, err := reg.Check(typ, message.NewClassical(msgOne{}, message.Immutable, nil), 0)
	if !errors.Is(err, ErrOverLimit) {
		t.Fatalf("expected default limit to apply, got %v", err)
	}
}

func TestNilRegistryAllowsEverything(t *testing.T) {
	var reg *Registry
	outcome, err := reg.Check(message.TypeOf[msgOne](), message.NewClassical(msgOne{}, message.Immutable, nil), 0)
	if err != nil || outcome != OutcomeAllow {
		t.Fatalf("expected nil registry to allow, got %v err=%v", outcome, err)
	}
}
