package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrouter/internal/condition"
	"github.com/smallbiznis/payrouter/internal/routing/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

type ruleRow struct {
	ID                  int64
	Name                string
	Description         string
	Conditions          datatypes.JSON
	Priority            int
	IsActive            bool
	TargetProviderID    int64
	FallbackProviderID  *int64
	LoadBalancingWeight float64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// malformedCondition stands in for stored conditions that no longer decode.
// Its field is outside the closed set, so the owning rule never matches.
var malformedCondition = condition.Condition{Field: "malformed", Operator: condition.OpEq}

const selectColumns = `SELECT id, name, description, conditions, priority, is_active,
		target_provider_id, fallback_provider_id, load_balancing_weight, created_at, updated_at
	 FROM routing_rules`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rule *domain.Rule) error {
	conditions, err := encodeConditions(rule.Conditions)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO routing_rules (
			id, name, description, conditions, priority, is_active,
			target_provider_id, fallback_provider_id, load_balancing_weight, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(rule.ID),
		rule.Name,
		rule.Description,
		conditions,
		rule.Priority,
		rule.IsActive,
		int64(rule.TargetProviderID),
		nullableID(rule.FallbackProviderID),
		rule.LoadBalancingWeight,
		rule.CreatedAt,
		rule.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, rule *domain.Rule) error {
	conditions, err := encodeConditions(rule.Conditions)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(
		`UPDATE routing_rules
		 SET name = ?, description = ?, conditions = ?, priority = ?, is_active = ?,
			target_provider_id = ?, fallback_provider_id = ?, load_balancing_weight = ?, updated_at = ?
		 WHERE id = ?`,
		rule.Name,
		rule.Description,
		conditions,
		rule.Priority,
		rule.IsActive,
		int64(rule.TargetProviderID),
		nullableID(rule.FallbackProviderID),
		rule.LoadBalancingWeight,
		rule.UpdatedAt,
		int64(rule.ID),
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Rule, error) {
	var row ruleRow
	err := db.WithContext(ctx).Raw(selectColumns+` WHERE id = ? LIMIT 1`, int64(id)).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	rule := decode(row)
	return &rule, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Rule, error) {
	query := selectColumns + ` WHERE 1 = 1`
	args := []any{}
	if filter.ActiveOnly {
		query += ` AND is_active = ?`
		args = append(args, true)
	}
	if filter.TargetProviderID != nil {
		query += ` AND (target_provider_id = ? OR fallback_provider_id = ?)`
		args = append(args, int64(*filter.TargetProviderID), int64(*filter.TargetProviderID))
	}
	query += ` ORDER BY priority DESC, created_at ASC, id ASC`

	var rows []ruleRow
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}

	rules := make([]domain.Rule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, decode(row))
	}
	return rules, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	result := db.WithContext(ctx).Exec(`DELETE FROM routing_rules WHERE id = ?`, int64(id))
	return result.RowsAffected, result.Error
}

func encodeConditions(conditions []condition.Condition) (datatypes.JSON, error) {
	if conditions == nil {
		conditions = []condition.Condition{}
	}
	raw, err := json.Marshal(conditions)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func decodeConditions(raw datatypes.JSON) []condition.Condition {
	if len(raw) == 0 {
		return []condition.Condition{}
	}
	var conditions []condition.Condition
	if err := json.Unmarshal(raw, &conditions); err != nil {
		return []condition.Condition{malformedCondition}
	}
	if conditions == nil {
		conditions = []condition.Condition{}
	}
	return conditions
}

func decode(row ruleRow) domain.Rule {
	rule := domain.Rule{
		ID:                  snowflake.ID(row.ID),
		Name:                row.Name,
		Description:         row.Description,
		Conditions:          decodeConditions(row.Conditions),
		Priority:            row.Priority,
		IsActive:            row.IsActive,
		TargetProviderID:    snowflake.ID(row.TargetProviderID),
		LoadBalancingWeight: row.LoadBalancingWeight,
		CreatedAt:           row.CreatedAt.UTC(),
		UpdatedAt:           row.UpdatedAt.UTC(),
	}
	if row.FallbackProviderID != nil {
		id := snowflake.ID(*row.FallbackProviderID)
		rule.FallbackProviderID = &id
	}
	return rule
}

func nullableID(id *snowflake.ID) any {
	if id == nil {
		return nil
	}
	return int64(*id)
}
