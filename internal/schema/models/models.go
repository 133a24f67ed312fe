// Package models registers the bundled import targets with the schema
// registry. Import this package to ensure all models are registered.
package models

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/tabimport/internal/schema"
)

// Model keys.
const (
	UserKey = "auth.user"
	ItemKey = "inventory.item"
)

// User is the account model items can be assigned to.
var User = &schema.Model{
	Key:   UserKey,
	Table: "auth_user",
	Label: "User",
	Fields: []schema.Field{
		{Name: "username", Kind: schema.KindText, MaxLength: 150, Unique: true},
		{Name: "email", Kind: schema.KindText, MaxLength: 254, Nullable: true},
	},
}

// Item is an inventory entry, the primary import example.
var Item = &schema.Model{
	Key:   ItemKey,
	Table: "inventory_item",
	Label: "Inventory Item",
	Fields: []schema.Field{
		{Name: "name", Kind: schema.KindText, MaxLength: 128},
		{Name: "quantity", Kind: schema.KindInteger, Nullable: true},
		{Name: "weight", Kind: schema.KindFloat, Nullable: true},
		{Name: "price", Kind: schema.KindDecimal, MaxDigits: 15, DecimalPlaces: 2, Nullable: true},
		{Name: "kind", Kind: schema.KindText, MaxLength: 32, Choices: []string{"wood", "steel", "oil"}},
		{Name: "user", Kind: schema.KindReference, Nullable: true, Reference: &schema.Reference{Model: UserKey}},
	},
	Properties: []schema.Property{
		{Name: "user_name", Set: setUserName},
	},
}

// setUserName assigns the user whose username matches value, or clears it.
func setUserName(ctx context.Context, target schema.PropertyTarget, value any) error {
	if value == nil {
		target.Assign("user", nil)
		return nil
	}
	user, err := target.Lookup(ctx, User, "username", fmt.Sprint(value))
	if err != nil {
		return fmt.Errorf("resolve user_name: %w", err)
	}
	if user == nil {
		target.Assign("user", nil)
		return nil
	}
	target.Assign("user", user)
	return nil
}

func init() {
	schema.Register(User)
	schema.Register(Item)
}
