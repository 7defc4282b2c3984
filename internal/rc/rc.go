// Package rc defines the stable error-code space named in spec.md §6, and
// a small typed error that wraps one of those codes so callers can match
// with errors.Is while still getting a human-readable message.
package rc

import "fmt"

// Code is a stable, spec-named error code.
type Code int

const (
	NoInitialSubstate Code = iota + 1
	StateNestingTooDeep
	InitialSubstateAlreadyDefined
	AgentDeactivated
	AgentUnknownState
	AnotherStateSwitchInProgress
	TransferToStateLoop
	InvalidTimeLimitForState
	OperationEnabledOnlyOnAgentWorkingThread
	MsgChainIsEmpty
	MsgChainIsFull
	MsgChainOverflow
	MsgChainDoesntSupportSubscriptions
	MsgChainDoesntSupportDeliveryFilters
	MutableMsgCannotBeDeliveredViaMPMCMbox
	MutableMsgCannotBePeriodic
	NegativeValueForPause
	NegativeValueForPeriod
	MessageHasNoLimitDefined
	SeveralLimitsForOneMessageType
	SvcRequestCannotBeTransformedOnOverlimit
	CannotSetStopGuardWhenStopIsStarted
	MsgTracingDisabled
	DuplicateSubscription
	AnotherStateSwitchIsInProgressForCoop
	SvcResultNotReceivedYet
	MboxClosed
)

var names = map[Code]string{
	NoInitialSubstate:                         "rc_no_initial_substate",
	StateNestingTooDeep:                       "rc_state_nesting_is_too_deep",
	InitialSubstateAlreadyDefined:             "rc_initial_substate_already_defined",
	AgentDeactivated:                          "rc_agent_deactivated",
	AgentUnknownState:                         "rc_agent_unknown_state",
	AnotherStateSwitchInProgress:              "rc_another_state_switch_in_progress",
	TransferToStateLoop:                       "rc_transfer_to_state_loop",
	InvalidTimeLimitForState:                  "rc_invalid_time_limit_for_state",
	OperationEnabledOnlyOnAgentWorkingThread:  "rc_operation_enabled_only_on_agent_working_thread",
	MsgChainIsEmpty:                           "rc_msg_chain_is_empty",
	MsgChainIsFull:                            "rc_msg_chain_is_full",
	MsgChainOverflow:                          "rc_msg_chain_overflow",
	MsgChainDoesntSupportSubscriptions:        "rc_msg_chain_doesnt_support_subscriptions",
	MsgChainDoesntSupportDeliveryFilters:      "rc_msg_chain_doesnt_support_delivery_filters",
	MutableMsgCannotBeDeliveredViaMPMCMbox:    "rc_mutable_msg_cannot_be_delivered_via_mpmc_mbox",
	MutableMsgCannotBePeriodic:                "rc_mutable_msg_cannot_be_periodic",
	NegativeValueForPause:                     "rc_negative_value_for_pause",
	NegativeValueForPeriod:                    "rc_negative_value_for_period",
	MessageHasNoLimitDefined:                  "rc_message_has_no_limit_defined",
	SeveralLimitsForOneMessageType:            "rc_several_limits_for_one_message_type",
	SvcRequestCannotBeTransformedOnOverlimit:  "rc_svc_request_cannot_be_transformed_on_overlimit",
	CannotSetStopGuardWhenStopIsStarted:       "rc_cannot_set_stop_guard_when_stop_is_started",
	MsgTracingDisabled:                        "rc_msg_tracing_disabled",
	DuplicateSubscription:                     "rc_duplicate_subscription",
	AnotherStateSwitchIsInProgressForCoop:     "rc_another_coop_registration_in_progress",
	SvcResultNotReceivedYet:                   "rc_svc_result_not_received_yet",
	MboxClosed:                                "rc_mbox_closed",
}

// String renders the stable rc_* identifier for the code.
func (c Code) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	return "rc_unknown"
}

// Error is a typed error carrying a stable Code. Construct with New or Wrap.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause so errors.Is/As can traverse it.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target carries the same Code, so callers can write
// errors.Is(err, rc.New(rc.AgentDeactivated, "")).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Code == e.Code
}

// New constructs an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an *Error with the given code, message, and a wrapped
// cause that errors.Unwrap can reach.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}
