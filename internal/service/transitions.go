package service

import "github.com/neKamita/telegram-star-manager/internal/model"

type statusSet map[model.OrderStatus]struct{}

func setOf(statuses ...model.OrderStatus) statusSet {
	s := make(statusSet, len(statuses))
	for _, st := range statuses {
		s[st] = struct{}{}
	}
	return s
}

// orderTransitions is the complete order lifecycle. Anything not listed is rejected.
var orderTransitions = map[model.OrderStatus]statusSet{
	model.OrderCreated: setOf(
		model.OrderAwaitingPayment, model.OrderCancelled, model.OrderFailed, model.OrderBalanceInsufficient),
	model.OrderAwaitingPayment: setOf(
		model.OrderPaymentReceived, model.OrderFailed, model.OrderCancelled,
		model.OrderBalanceInsufficient, model.OrderPartialBalancePayment),
	model.OrderPaymentReceived: setOf(model.OrderProcessing, model.OrderCompleted, model.OrderRefunded),
	model.OrderProcessing:      setOf(model.OrderCompleted, model.OrderFailed),
	model.OrderCompleted:       setOf(model.OrderRefunded),
	model.OrderFailed:          setOf(model.OrderCreated, model.OrderAwaitingPayment),
	model.OrderCancelled:       setOf(model.OrderCreated, model.OrderAwaitingPayment),
	model.OrderRefunded:        setOf(),
	model.OrderBalanceInsufficient: setOf(
		model.OrderAwaitingPayment, model.OrderCancelled, model.OrderPartialBalancePayment),
	model.OrderPartialBalancePayment: setOf(
		model.OrderPaymentReceived, model.OrderCompleted, model.OrderCancelled),
}

// ValidateStatusTransition reports whether an order may move from one status to another.
// Staying in the same status is always allowed.
func ValidateStatusTransition(from, to model.OrderStatus) bool {
	if from == to {
		_, known := orderTransitions[from]
		return known
	}
	_, ok := orderTransitions[from][to]
	return ok
}

// AllowedTransitions lists the targets reachable from status, in declaration order.
func AllowedTransitions(from model.OrderStatus) []model.OrderStatus {
	var out []model.OrderStatus
	for _, to := range model.AllOrderStatuses {
		if to != from && ValidateStatusTransition(from, to) {
			out = append(out, to)
		}
	}
	return out
}

// stuckStatuses are the states an order should not linger in.
var stuckStatuses = []model.OrderStatus{
	model.OrderCreated, model.OrderAwaitingPayment, model.OrderBalanceInsufficient,
	model.OrderPartialBalancePayment, model.OrderPaymentReceived, model.OrderProcessing,
}
