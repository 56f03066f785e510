// Package backend reaches the remote field-sales database.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fieldsync/pkg/db/models"
	"github.com/angelmondragon/fieldsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/fieldsync/pkg/errors"
	"github.com/angelmondragon/fieldsync/pkg/money"
)

// GormService implements Service directly against the backend tables.
type GormService struct {
	db *gorm.DB
}

func NewGormService(db *gorm.DB) (*GormService, error) {
	if db == nil {
		return nil, errors.New("gorm db required")
	}
	return &GormService{db: db}, nil
}

func (s *GormService) InsertOrder(ctx context.Context, header OrderHeader) (Order, error) {
	if err := validateHeader(header); err != nil {
		return Order{}, err
	}
	subtotal := money.Cents(header.TotalAmount)
	discount := money.Cents(header.DiscountAmount)
	tax := money.Cents(header.TaxAmount)
	total := subtotal.Sub(discount).Add(tax)
	if total.IsNegative() {
		total = decimal.Zero
	}

	row := models.Order{
		ID:             header.ID,
		RetailerID:     header.RetailerID,
		UserID:         header.UserID,
		VisitID:        header.VisitID,
		OrderDate:      header.OrderDate,
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxAmount:      tax,
		TotalAmount:    total.Round(2),
		Status:         enums.OrderStatusConfirmed,
		Notes:          header.Notes,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if pkgerrors.IsUniqueViolation(err, "") {
			return Order{}, pkgerrors.Wrap(pkgerrors.CodeConflict, err, fmt.Sprintf("order %s already exists", header.ID))
		}
		return Order{}, fmt.Errorf("insert order %s: %w", header.ID, err)
	}
	return orderFromModel(row), nil
}

func (s *GormService) InsertOrderItems(ctx context.Context, items []OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]models.OrderItem, 0, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.OrderID) == "" || strings.TrimSpace(item.ProductID) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "order item requires order and product ids")
		}
		if item.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "order item quantity must be positive").
				WithDetails(map[string]any{"productId": item.ProductID})
		}
		id := item.ID
		if id == "" {
			id = item.OrderID + ":" + strconv.Itoa(i+1)
		}
		unit := money.Cents(item.UnitPrice)
		rows = append(rows, models.OrderItem{
			ID:          id,
			OrderID:     item.OrderID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   unit,
			LineTotal:   money.LineTotal(item.Quantity, unit),
		})
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("insert %d order items: %w", len(rows), err)
	}
	return nil
}

func (s *GormService) GetOrder(ctx context.Context, id string) (Order, error) {
	var row models.Order
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Order{}, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("order %s not found", id))
		}
		return Order{}, fmt.Errorf("select order %s: %w", id, err)
	}
	return orderFromModel(row), nil
}

func (s *GormService) FetchDay(ctx context.Context, userID, date string) (DayData, error) {
	db := s.db.WithContext(ctx)
	var (
		plans  []models.BeatPlan
		visits []models.Visit
		orders []models.Order
	)
	if err := db.Where("user_id = ? AND plan_date = ?", userID, date).Order("created_at ASC").Find(&plans).Error; err != nil {
		return DayData{}, fmt.Errorf("select beat plans: %w", err)
	}
	if err := db.Where("user_id = ? AND visit_date = ?", userID, date).Order("created_at ASC").Find(&visits).Error; err != nil {
		return DayData{}, fmt.Errorf("select visits: %w", err)
	}
	if err := db.Where("user_id = ? AND order_date = ?", userID, date).Order("created_at ASC").Find(&orders).Error; err != nil {
		return DayData{}, fmt.Errorf("select orders: %w", err)
	}

	retailerIDs := make([]string, 0, len(visits)+len(orders))
	for _, v := range visits {
		retailerIDs = append(retailerIDs, v.RetailerID)
	}
	for _, o := range orders {
		retailerIDs = append(retailerIDs, o.RetailerID)
	}
	beatIDs := make([]string, 0, len(plans))
	for _, p := range plans {
		beatIDs = append(beatIDs, p.BeatID)
	}

	var retailers []models.Retailer
	if len(retailerIDs) > 0 || len(beatIDs) > 0 {
		query := db.Model(&models.Retailer{})
		switch {
		case len(retailerIDs) > 0 && len(beatIDs) > 0:
			query = query.Where("id IN ? OR beat_id IN ?", retailerIDs, beatIDs)
		case len(retailerIDs) > 0:
			query = query.Where("id IN ?", retailerIDs)
		default:
			query = query.Where("beat_id IN ?", beatIDs)
		}
		if err := query.Order("name ASC").Find(&retailers).Error; err != nil {
			return DayData{}, fmt.Errorf("select retailers: %w", err)
		}
	}

	day := DayData{
		BeatPlans: make([]BeatPlan, 0, len(plans)),
		Visits:    make([]Visit, 0, len(visits)),
		Retailers: make([]Retailer, 0, len(retailers)),
		Orders:    make([]Order, 0, len(orders)),
	}
	for _, p := range plans {
		day.BeatPlans = append(day.BeatPlans, BeatPlan{ID: p.ID, BeatID: p.BeatID, BeatName: p.BeatName, PlanDate: p.PlanDate})
	}
	for _, v := range visits {
		day.Visits = append(day.Visits, Visit{
			ID:            v.ID,
			UserID:        v.UserID,
			RetailerID:    v.RetailerID,
			Status:        v.Status,
			NoOrderReason: v.NoOrderReason,
			CheckInAt:     v.CheckInAt,
			CheckOutAt:    v.CheckOutAt,
		})
	}
	for _, r := range retailers {
		day.Retailers = append(day.Retailers, Retailer{ID: r.ID, Name: r.Name, BeatID: r.BeatID, Phone: r.Phone, Address: r.Address})
	}
	for _, o := range orders {
		day.Orders = append(day.Orders, orderFromModel(o))
	}
	return day, nil
}

func (s *GormService) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func validateHeader(h OrderHeader) error {
	var missing []string
	if strings.TrimSpace(h.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(h.RetailerID) == "" {
		missing = append(missing, "retailerId")
	}
	if strings.TrimSpace(h.UserID) == "" {
		missing = append(missing, "userId")
	}
	if strings.TrimSpace(h.OrderDate) == "" {
		missing = append(missing, "orderDate")
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order header incomplete").
			WithDetails(map[string]any{"missing": missing})
	}
	if h.TotalAmount < 0 || h.DiscountAmount < 0 || h.TaxAmount < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order amounts must not be negative")
	}
	return nil
}

func orderFromModel(row models.Order) Order {
	return Order{
		ID:          row.ID,
		RetailerID:  row.RetailerID,
		UserID:      row.UserID,
		VisitID:     row.VisitID,
		OrderDate:   row.OrderDate,
		TotalAmount: money.Float(row.TotalAmount),
		Status:      row.Status,
		CreatedAt:   row.CreatedAt,
	}
}
