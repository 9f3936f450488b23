// Package model はドメインモデルを定義する。
package model

import "time"

// MaxLabelLength は連携アカウントのラベルの最大文字数。
const MaxLabelLength = 100

// LinkedAccount はユーザーに連携されたStellarアカウント（公開鍵）を表す。
// 公開鍵は全ユーザーを通して一意であり、1つのアカウントは1人のユーザーにのみ属する。
type LinkedAccount struct {
	ID        string
	UserID    string
	PublicKey string
	Label     *string // 未設定の場合はnil
	IsActive  bool
	IsPrimary bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
