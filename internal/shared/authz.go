package shared

// Action names an operation subject to ownership checks.
type Action string

const (
	ActionOpenCredit       Action = "credit.open"
	ActionViewCredit       Action = "credit.view"
	ActionRecordPayment    Action = "credit.record_payment"
	ActionPlaceOrder       Action = "order.place"
	ActionViewOrder        Action = "order.view"
	ActionConfirmOrder     Action = "order.confirm"
	ActionDeliverOrder     Action = "order.deliver"
	ActionCancelOrder      Action = "order.cancel"
	ActionSetOrderPayment  Action = "order.set_payment_status"
	ActionManageProduct    Action = "product.manage"
	ActionViewReminder     Action = "reminder.view"
	ActionScheduleReminder Action = "reminder.schedule"
	ActionSendReminder     Action = "reminder.send"
)

// Ownership holds the owning sides of the resource being acted on.
type Ownership struct {
	CustomerID   int64
	ShopkeeperID int64
}

// policy is the authorization predicate table: which side of a resource may
// perform each action. An actor is allowed when its side is enabled and its
// identity matches the resource's owner on that side.
var policy = map[Action]struct{ Customer, Shopkeeper bool }{
	ActionOpenCredit:       {Shopkeeper: true},
	ActionViewCredit:       {Customer: true, Shopkeeper: true},
	ActionRecordPayment:    {Customer: true, Shopkeeper: true},
	ActionPlaceOrder:       {Customer: true},
	ActionViewOrder:        {Customer: true, Shopkeeper: true},
	ActionConfirmOrder:     {Shopkeeper: true},
	ActionDeliverOrder:     {Shopkeeper: true},
	ActionCancelOrder:      {Customer: true, Shopkeeper: true},
	ActionSetOrderPayment:  {Shopkeeper: true},
	ActionManageProduct:    {Shopkeeper: true},
	ActionViewReminder:     {Customer: true, Shopkeeper: true},
	ActionScheduleReminder: {Shopkeeper: true},
	ActionSendReminder:     {Shopkeeper: true},
}

// Authorize checks the actor against the resource's ownership for the given
// action. Returns ErrForbidden when the predicate table denies the access.
func Authorize(actor Actor, action Action, own Ownership) error {
	rule, ok := policy[action]
	if !ok {
		return ErrForbidden
	}
	switch actor.Role {
	case RoleCustomer:
		if rule.Customer && actor.ID == own.CustomerID {
			return nil
		}
	case RoleShopkeeper:
		if rule.Shopkeeper && actor.ID == own.ShopkeeperID {
			return nil
		}
	}
	return ErrForbidden
}
