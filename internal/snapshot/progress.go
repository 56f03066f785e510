package snapshot

import (
	"strings"

	"github.com/angelmondragon/fieldsync/pkg/enums"
	"github.com/angelmondragon/fieldsync/pkg/money"
)

func (p *ProgressStats) counter(status enums.VisitStatus) *int {
	switch status {
	case enums.VisitStatusPlanned:
		return &p.Planned
	case enums.VisitStatusProductive:
		return &p.Productive
	case enums.VisitStatusUnproductive:
		return &p.Unproductive
	default:
		return nil
	}
}

// move shifts one count from prev to next. Counters never go below zero.
func (p *ProgressStats) move(prev, next enums.VisitStatus) {
	if prev == next {
		return
	}
	if c := p.counter(prev); c != nil && *c > 0 {
		*c--
	}
	if c := p.counter(next); c != nil {
		*c++
	}
}

func (s *Snapshot) visitIndex(retailerID string) int {
	for i, v := range s.Visits {
		if v.RetailerID == retailerID {
			return i
		}
	}
	return -1
}

func (s *Snapshot) retailerIndex(retailerID string) int {
	for i, r := range s.Retailers {
		if r.ID == retailerID {
			return i
		}
	}
	return -1
}

// currentStatus is the retailer's counted state: its visit if one exists,
// planned when it is only listed, empty when the day has never seen it.
func (s *Snapshot) currentStatus(retailerID string) enums.VisitStatus {
	if i := s.visitIndex(retailerID); i >= 0 {
		return s.Visits[i].Status
	}
	if i := s.retailerIndex(retailerID); i >= 0 {
		if s.Retailers[i].Status != "" {
			return s.Retailers[i].Status
		}
		return enums.VisitStatusPlanned
	}
	return ""
}

func (s *Snapshot) setRetailerStatus(retailerID string, status enums.VisitStatus) {
	if i := s.retailerIndex(retailerID); i >= 0 {
		s.Retailers[i].Status = status
	}
}

func (s *Snapshot) recomputeOrderStats() {
	amounts := make([]float64, 0, len(s.Orders))
	retailers := make(map[string]struct{}, len(s.Orders))
	for _, o := range s.Orders {
		amounts = append(amounts, float64(o.TotalAmount))
		retailers[o.RetailerID] = struct{}{}
	}
	s.ProgressStats.TotalOrders = len(s.Orders)
	s.ProgressStats.TotalOrderValue = money.Sum(amounts...)
	s.ProgressStats.Productive = len(retailers)
}

func (s *Snapshot) recomputeOrderValue() {
	amounts := make([]float64, 0, len(s.Orders))
	for _, o := range s.Orders {
		amounts = append(amounts, float64(o.TotalAmount))
	}
	s.ProgressStats.TotalOrderValue = money.Sum(amounts...)
}

func (s *Snapshot) recomputeBeatLabel() {
	names := make([]string, 0, len(s.BeatPlans))
	for _, p := range s.BeatPlans {
		if name := strings.TrimSpace(p.BeatName); name != "" {
			names = append(names, name)
		}
	}
	s.CurrentBeatLabel = strings.Join(names, ", ")
}

// Recompute derives every counter, retailer status and the beat label from
// the day's records. A retailer with an order counts as productive.
func (s *Snapshot) Recompute() {
	ordered := make(map[string]struct{}, len(s.Orders))
	for _, o := range s.Orders {
		ordered[o.RetailerID] = struct{}{}
	}
	stats := ProgressStats{}
	seen := make(map[string]struct{})
	count := func(retailerID string) {
		if _, dup := seen[retailerID]; dup {
			return
		}
		seen[retailerID] = struct{}{}
		status := s.currentStatus(retailerID)
		if _, ok := ordered[retailerID]; ok {
			status = enums.VisitStatusProductive
		}
		if c := stats.counter(status); c != nil {
			*c++
		}
	}
	for _, v := range s.Visits {
		count(v.RetailerID)
	}
	for _, r := range s.Retailers {
		count(r.ID)
	}
	for _, o := range s.Orders {
		count(o.RetailerID)
	}
	for i := range s.Retailers {
		if _, ok := ordered[s.Retailers[i].ID]; ok {
			s.Retailers[i].Status = enums.VisitStatusProductive
		} else if vi := s.visitIndex(s.Retailers[i].ID); vi >= 0 {
			s.Retailers[i].Status = s.Visits[vi].Status
		} else if s.Retailers[i].Status == "" {
			s.Retailers[i].Status = enums.VisitStatusPlanned
		}
	}

	amounts := make([]float64, 0, len(s.Orders))
	for _, o := range s.Orders {
		amounts = append(amounts, float64(o.TotalAmount))
	}
	stats.TotalOrders = len(s.Orders)
	stats.TotalOrderValue = money.Sum(amounts...)
	s.ProgressStats = stats
	s.recomputeBeatLabel()
}
