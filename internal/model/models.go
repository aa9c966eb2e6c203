// Package model defines the database models for the submaster panel.
package model

import (
	"time"

	"github.com/goccy/go-json"
)

// TransactionStatus is the lifecycle state of a payment transaction.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionCanceled  TransactionStatus = "CANCELED"
	TransactionRefunded  TransactionStatus = "REFUNDED"
)

// Terminal reports whether no further transition is permitted.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionCompleted || s == TransactionCanceled || s == TransactionRefunded
}

// Node is a remote provisioning server managed by this panel. The panel
// holds its control API credentials; the live connection is owned by the
// node pool.
type Node struct {
	Id        int    `json:"id" form:"id" gorm:"primaryKey;autoIncrement"`
	Name      string `json:"name" form:"name" gorm:"size:255;uniqueIndex;not null"`
	Host      string `json:"host" form:"host" gorm:"size:255;not null"`
	Port      int    `json:"port" form:"port"`
	Protocol  string `json:"protocol" form:"protocol" gorm:"size:10;default:https"`
	Username  string `json:"username" form:"username" gorm:"size:255"`
	Password  string `json:"password" form:"password" gorm:"size:255"`
	Capacity  int    `json:"capacity" form:"capacity" gorm:"default:0"` // max clients; 0 means uncapped
	Online    bool   `json:"online" form:"online" gorm:"default:false"`
	LastCheck int64  `json:"lastCheck" gorm:"default:0"`
	CreatedAt int64  `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt int64  `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (Node) TableName() string {
	return "nodes"
}

// Subscriber is a paying user. ClientId is the opaque key under which the
// subscriber's access record lives on its assigned node.
type Subscriber struct {
	Id           int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	TelegramId   int64  `json:"telegramId" gorm:"uniqueIndex;not null"`
	ClientId     string `json:"clientId" gorm:"size:36;uniqueIndex;not null"`
	NodeId       *int   `json:"nodeId" gorm:"index"`
	TrialUsed    bool   `json:"trialUsed" gorm:"default:false"`
	InviteSource string `json:"inviteSource" gorm:"size:64"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Subscriber) TableName() string {
	return "subscribers"
}

// SubscriptionOrder is the order snapshot serialized into a transaction.
type SubscriptionOrder struct {
	Devices      int     `json:"devices"`
	DurationDays int     `json:"durationDays"`
	Price        float64 `json:"price"`
	Extend       bool    `json:"extend"`
	Change       bool    `json:"change"`
	Gateway      string  `json:"gateway"`
}

// Transaction is one payment attempt tied to one subscription order.
// PaymentId is the provider's payment identifier; its uniqueness is the
// store-level idempotency guard for webhook deliveries.
type Transaction struct {
	Id           int64             `json:"id" gorm:"primaryKey;autoIncrement"`
	SubscriberId int64             `json:"subscriberId" gorm:"index;not null"`
	PaymentId    string            `json:"paymentId" gorm:"size:255;uniqueIndex;not null"`
	Gateway      string            `json:"gateway" gorm:"size:50"`
	OrderData    string            `json:"-" gorm:"column:order_data;type:text"`
	Status       TransactionStatus `json:"status" gorm:"type:varchar(20);default:'PENDING';index"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// SetOrder serializes the order snapshot into the transaction.
func (t *Transaction) SetOrder(order SubscriptionOrder) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	t.OrderData = string(data)
	return nil
}

// Order deserializes the stored order snapshot.
func (t *Transaction) Order() (SubscriptionOrder, error) {
	var order SubscriptionOrder
	err := json.Unmarshal([]byte(t.OrderData), &order)
	return order, err
}

// Promocode grants bonus days once. After IsActivated flips, further
// activation attempts must fail without side effects.
type Promocode struct {
	Id           int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Code         string `json:"code" gorm:"size:32;uniqueIndex;not null"`
	DurationDays int    `json:"durationDays" gorm:"not null"`
	IsActivated  bool   `json:"isActivated" gorm:"default:false"`
	ActivatedBy  *int64 `json:"activatedBy"`
	CreatedAt    time.Time
}

func (Promocode) TableName() string {
	return "promocodes"
}

// Referral links a referred subscriber to its referrer. Each subscriber is
// referred by at most one referrer. ReferredRewardedAt is nil until the
// referred subscriber's own try-for-free bonus has been granted.
type Referral struct {
	Id                 int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	ReferredId         int64      `json:"referredId" gorm:"uniqueIndex;not null"`
	ReferrerId         int64      `json:"referrerId" gorm:"index;not null"`
	ReferredBonusDays  int        `json:"referredBonusDays" gorm:"default:0"`
	ReferredRewardedAt *time.Time `json:"referredRewardedAt"`
	CreatedAt          time.Time
}

func (Referral) TableName() string {
	return "referrals"
}

// RewardType is the denomination of a referrer reward.
type RewardType string

const (
	RewardDays  RewardType = "days"
	RewardMoney RewardType = "money"
)

// ReferrerReward is a payout owed to a referrer for one referred payment.
// The (subscriber, payment) pair is unique: the same payment can never
// grant the same referrer twice, even if the sweep races the trigger.
type ReferrerReward struct {
	Id           int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	SubscriberId int64      `json:"subscriberId" gorm:"uniqueIndex:idx_reward_subscriber_payment,priority:1;not null"`
	PaymentId    string     `json:"paymentId" gorm:"size:255;uniqueIndex:idx_reward_subscriber_payment,priority:2;not null"`
	Type         RewardType `json:"type" gorm:"type:varchar(10);default:'days'"`
	Level        int        `json:"level" gorm:"default:1"`
	Amount       float64    `json:"amount" gorm:"not null"`
	RewardedAt   *time.Time `json:"rewardedAt"`
	CreatedAt    time.Time
}

func (ReferrerReward) TableName() string {
	return "referrer_rewards"
}
