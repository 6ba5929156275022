package models

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/mrlokans/crudkit/internal/logging"
	"github.com/mrlokans/crudkit/internal/status"
)

// AddDB inserts a new row built from data and returns it reloaded.
func (r *Repository[T]) AddDB(ctx context.Context, data map[string]any) (*T, error) {
	inst, err := r.CreateInstance(data)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Create(inst).Error; err != nil {
		return nil, fmt.Errorf("insert %s: %w", r.meta.Name, err)
	}
	return r.Refresh(ctx, inst)
}

// BulkAdd inserts all items in one transaction.
func (r *Repository[T]) BulkAdd(ctx context.Context, items []map[string]any) error {
	if len(items) == 0 {
		return nil
	}
	insts := make([]*T, 0, len(items))
	for _, item := range items {
		inst, err := r.CreateInstance(item)
		if err != nil {
			return err
		}
		insts = append(insts, inst)
	}
	if err := r.db.WithContext(ctx).Create(insts).Error; err != nil {
		return fmt.Errorf("bulk insert %s: %w", r.meta.Name, err)
	}
	return nil
}

// UpdateDB updates the fields present in data on the row identified by the
// primary key in data. Relationships present in data replace the stored ones.
func (r *Repository[T]) UpdateDB(ctx context.Context, data map[string]any) (*T, error) {
	pk := r.meta.pkValue(data)
	if pk == nil {
		return nil, status.DBDataNotFound
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.updateInTx(tx, pk, data)
	})
	if err != nil {
		return nil, err
	}
	return r.QueryByPK(ctx, pk)
}

// BulkUpdate updates all items in one transaction. Items without a key or
// without a matching row are skipped.
func (r *Repository[T]) BulkUpdate(ctx context.Context, items []map[string]any) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range items {
			pk := r.meta.pkValue(item)
			if pk == nil {
				continue
			}
			if err := r.updateInTx(tx, pk, item); err != nil && !isNotFound(err) {
				return err
			}
		}
		return nil
	})
}

func (r *Repository[T]) updateInTx(tx *gorm.DB, pk any, data map[string]any) error {
	inst, err := firstOf[T](tx.Model(new(T)).Where(r.pkCondition(pk)))
	if err != nil {
		return fmt.Errorf("load %s: %w", r.meta.Name, err)
	}
	if inst == nil {
		return status.DBDataNotFound
	}
	tmp, err := r.CreateInstance(data)
	if err != nil {
		return err
	}

	var selected []string
	for field := range r.meta.FilterAttrsByColumns(data) {
		if c := r.meta.byField[field]; c != nil && !c.Primary {
			selected = append(selected, c.DBName)
		}
	}
	if len(selected) > 0 {
		for _, c := range r.meta.Columns {
			if c.field.AutoUpdateTime > 0 {
				selected = append(selected, c.DBName)
			}
		}
		if err := tx.Model(inst).Select(selected).Updates(tmp).Error; err != nil {
			return fmt.Errorf("update %s: %w", r.meta.Name, err)
		}
	}

	tmpValue := reflect.ValueOf(tmp).Elem()
	for _, rel := range r.meta.Relations {
		if _, ok := data[rel.Field]; !ok {
			continue
		}
		if err := r.replaceRelation(tx, inst, rel, rel.rel.Field.ReflectValueOf(tx.Statement.Context, tmpValue)); err != nil {
			return fmt.Errorf("update %s.%s: %w", r.meta.Name, rel.Name, err)
		}
	}
	return nil
}

func (r *Repository[T]) replaceRelation(tx *gorm.DB, inst *T, rel *Relation, value reflect.Value) error {
	assoc := tx.Model(inst).Association(rel.Name)
	switch rel.Type {
	case schema.HasMany:
		// Children are owned by the parent, so the new list replaces them
		// instead of only detaching the old rows.
		var conds []clause.Expression
		owner := reflect.ValueOf(inst).Elem()
		for _, ref := range rel.rel.References {
			if !ref.OwnPrimaryKey {
				continue
			}
			var v any = ref.PrimaryValue
			if ref.PrimaryKey != nil {
				v, _ = ref.PrimaryKey.ValueOf(tx.Statement.Context, owner)
			}
			conds = append(conds, clause.Eq{Column: clause.Column{Name: ref.ForeignKey.DBName}, Value: v})
		}
		child := reflect.New(rel.rel.FieldSchema.ModelType).Interface()
		if len(conds) > 0 {
			if err := tx.Unscoped().Where(clause.And(conds...)).Delete(child).Error; err != nil {
				return err
			}
		}
		if value.Len() == 0 {
			return nil
		}
		return assoc.Append(value.Interface())
	default:
		if value.IsZero() {
			return assoc.Clear()
		}
		if value.Kind() == reflect.Slice || value.Kind() == reflect.Ptr {
			return assoc.Replace(value.Interface())
		}
		return assoc.Replace(value.Addr().Interface())
	}
}

// DeleteDB deletes the row identified by a primary key or, when key is a
// map, the first row matching its fields. The deleted instance is returned.
func (r *Repository[T]) DeleteDB(ctx context.Context, key any) (*T, error) {
	if key == nil {
		return nil, status.DBDataNotFound
	}
	var deleted *T
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := r.withPreloads(tx.Model(new(T)))
		if by, ok := key.(map[string]any); ok {
			if len(by) == 0 {
				return status.DBDataNotFound
			}
			exprs, err := r.meta.conditions(by)
			if err != nil {
				return err
			}
			q = q.Where(clause.And(exprs...))
		} else {
			q = q.Where(r.pkCondition(key))
		}
		inst, err := firstOf[T](q)
		if err != nil {
			return fmt.Errorf("load %s: %w", r.meta.Name, err)
		}
		if inst == nil {
			return status.DBDataNotFound
		}
		del := tx
		if len(r.meta.cascadeDelete) > 0 {
			del = tx.Select(r.meta.cascadeDelete)
		}
		if err := del.Delete(inst).Error; err != nil {
			return fmt.Errorf("delete %s: %w", r.meta.Name, err)
		}
		deleted = inst
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// BulkDelete deletes rows given as primary keys or field maps. A map
// matches every row with those values. It returns the deleted count.
func (r *Repository[T]) BulkDelete(ctx context.Context, items []any) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pks []any
		for _, item := range items {
			by, ok := item.(map[string]any)
			if !ok {
				pks = append(pks, r.meta.coercePK(item))
				continue
			}
			exprs, err := r.meta.conditions(by)
			if err != nil {
				return err
			}
			var found []*T
			if err := tx.Model(new(T)).Where(clause.And(exprs...)).Find(&found).Error; err != nil {
				return err
			}
			for _, inst := range found {
				pks = append(pks, r.meta.instancePK(reflect.ValueOf(inst)))
			}
		}
		if len(pks) == 0 {
			return nil
		}
		res := tx.Where(clause.IN{Column: r.meta.Primary.column(), Values: pks}).Delete(new(T))
		count = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("bulk delete %s: %w", r.meta.Name, err)
	}
	return count, nil
}

// ClearDB deletes every row and returns the deleted count.
func (r *Repository[T]) ClearDB(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(new(T))
	if res.Error != nil {
		return 0, fmt.Errorf("clear %s: %w", r.meta.Name, res.Error)
	}
	return res.RowsAffected, nil
}

// Add runs the add lifecycle: get data, check, before hook, insert, after
// hook. The after hook runs whether or not the insert happened. Every
// returned error carries a status.Code.
func (r *Repository[T]) Add(ctx context.Context, payload any) (*T, error) {
	data, err := r.payloadMap(payload)
	if err != nil {
		return nil, err
	}
	if data, err = r.hooks.GetAddData(ctx, data); err != nil {
		return nil, r.lifecycleErr("add", err, status.DBAddErr)
	}
	if err := r.CheckAddData(ctx, data); err != nil {
		return nil, err
	}
	beforeErr := r.hooks.BeforeAdd(ctx, data)
	var inst *T
	var dbErr error
	if beforeErr == nil {
		inst, dbErr = r.AddDB(ctx, data)
	}
	r.hooks.AfterAdd(ctx, data, resultOf(inst), firstErr(beforeErr, dbErr))
	if beforeErr != nil {
		return nil, status.From(beforeErr, status.DBAddErr)
	}
	if dbErr != nil {
		if isUniqueViolation(dbErr) {
			return nil, status.DBDataAlreadyExist
		}
		return nil, r.lifecycleErr("add", dbErr, status.DBAddErr)
	}
	return inst, nil
}

// Update runs the update lifecycle. See Add.
func (r *Repository[T]) Update(ctx context.Context, payload any) (*T, error) {
	data, err := r.payloadMap(payload)
	if err != nil {
		return nil, err
	}
	if data, err = r.hooks.GetUpdateData(ctx, data); err != nil {
		return nil, r.lifecycleErr("update", err, status.DBUpdateErr)
	}
	if err := r.CheckUpdateData(ctx, data); err != nil {
		return nil, err
	}
	beforeErr := r.hooks.BeforeUpdate(ctx, data)
	var inst *T
	var dbErr error
	if beforeErr == nil {
		inst, dbErr = r.UpdateDB(ctx, data)
	}
	r.hooks.AfterUpdate(ctx, data, resultOf(inst), firstErr(beforeErr, dbErr))
	if beforeErr != nil {
		return nil, status.From(beforeErr, status.DBUpdateErr)
	}
	if dbErr != nil {
		if isNotFound(dbErr) {
			return nil, status.DBDataNotFound
		}
		if isUniqueViolation(dbErr) {
			return nil, status.DBDataAlreadyExist
		}
		return nil, r.lifecycleErr("update", dbErr, status.DBUpdateErr)
	}
	return inst, nil
}

// Delete runs the delete lifecycle for a primary key or a map holding it.
// Rows still referenced by other rows fail with status.DBDataInUse.
func (r *Repository[T]) Delete(ctx context.Context, key any) (*T, error) {
	if by, ok := key.(map[string]any); ok {
		key = r.meta.pkValue(by)
	}
	key, err := r.hooks.GetDeleteData(ctx, key)
	if err != nil {
		return nil, r.lifecycleErr("delete", err, status.DBDeleteErr)
	}
	if err := r.CheckDeleteData(ctx, key); err != nil {
		return nil, err
	}
	beforeErr := r.hooks.BeforeDelete(ctx, key)
	var inst *T
	var dbErr error
	if beforeErr == nil {
		inst, dbErr = r.DeleteDB(ctx, key)
	}
	r.hooks.AfterDelete(ctx, key, resultOf(inst), firstErr(beforeErr, dbErr))
	if beforeErr != nil {
		return nil, status.From(beforeErr, status.DBDeleteErr)
	}
	if dbErr != nil {
		if isNotFound(dbErr) {
			return nil, status.DBDataNotFound
		}
		if isForeignKeyViolation(dbErr) {
			logging.L().Warn("delete rejected, row in use", zap.String("model", r.meta.Name), zap.Error(dbErr))
			return nil, status.DBDataInUse
		}
		return nil, r.lifecycleErr("delete", dbErr, status.DBDeleteErr)
	}
	return inst, nil
}

func (r *Repository[T]) payloadMap(payload any) (map[string]any, error) {
	switch v := payload.(type) {
	case map[string]any:
		return v, nil
	case status.Code:
		return nil, v
	default:
		return nil, status.BadRequest
	}
}

func (r *Repository[T]) lifecycleErr(op string, err error, fallback status.Code) error {
	code := status.From(err, fallback)
	if code.Key == fallback.Key {
		logging.L().Error(op+" failed", zap.String("model", r.meta.Name), zap.Error(err))
		return fallback
	}
	return code
}

func resultOf[T any](inst *T) any {
	if inst == nil {
		return nil
	}
	return inst
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
