// Package catalog 提供商品、仓库库存和用户的最小录入能力，供秒杀活动引用。
package catalog

import (
	"context"
	"strings"

	"flashsale/internal/apperr"
	"flashsale/internal/model"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Catalog struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Catalog { return &Catalog{db: db} }

type ProductInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
}

func (c *Catalog) CreateProduct(ctx context.Context, in ProductInput) (*model.Product, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.New(apperr.InvalidArgument, "商品名称不能为空")
	}
	if in.Price < 0 {
		return nil, apperr.New(apperr.InvalidArgument, "价格不能为负")
	}
	p := &model.Product{Name: name, Description: in.Description, Price: in.Price}
	if err := c.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, errors.Wrap(err, "create product")
	}
	return p, nil
}

// ListProducts 按创建时间倒序列出商品。
func (c *Catalog) ListProducts(ctx context.Context) ([]model.Product, error) {
	var list []model.Product
	if err := c.db.WithContext(ctx).Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return list, nil
}

type InventoryInput struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// SetInventory 设置商品的仓库库存；已有记录时覆盖数量。
func (c *Catalog) SetInventory(ctx context.Context, in InventoryInput) (*model.Inventory, error) {
	if in.ProductID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "product_id 不能为空")
	}
	if in.Quantity < 0 {
		return nil, apperr.New(apperr.InvalidArgument, "库存数量不能为负")
	}

	var out model.Inventory
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.Product{}).Where("id = ?", in.ProductID).Count(&n).Error; err != nil {
			return errors.Wrap(err, "check product")
		}
		if n == 0 {
			return apperr.New(apperr.NotFound, "商品不存在")
		}
		inv := model.Inventory{ProductID: in.ProductID, Quantity: in.Quantity}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
		}).Create(&inv).Error; err != nil {
			return errors.Wrap(err, "upsert inventory")
		}
		return tx.Where("product_id = ?", in.ProductID).Take(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type UserInput struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (c *Catalog) CreateUser(ctx context.Context, in UserInput) (*model.User, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	if name == "" || !strings.Contains(email, "@") {
		return nil, apperr.New(apperr.InvalidArgument, "用户名不能为空且邮箱格式需正确")
	}
	u := &model.User{ID: in.ID, Name: name, Email: email}
	if err := c.db.WithContext(ctx).Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return nil, apperr.New(apperr.InvalidArgument, "用户 ID 或邮箱已存在")
		}
		return nil, errors.Wrap(err, "create user")
	}
	return u, nil
}

// isUniqueViolation 粗略识别各驱动的唯一约束冲突。
func isUniqueViolation(err error) bool {
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique") || strings.Contains(s, "Duplicate")
}
