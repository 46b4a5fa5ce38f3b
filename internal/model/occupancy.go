package model

import "time"

// OccupancyRecord is one occupancy interval of a cell, keyed by the cell's
// idStatic. A nil End marks an open record, meaning the occupancy is still in
// progress. Records are append-only; once closed they are never mutated again.
type OccupancyRecord struct {
	ID     int64      `gorm:"autoIncrement;primaryKey" json:"id"`
	CellID int64      `gorm:"column:cell_id;not null;index:idx_occupancy_cell_start,priority:1" json:"cellId"`
	Start  time.Time  `gorm:"column:start_time;not null;index:idx_occupancy_cell_start,priority:2,sort:desc" json:"start"`
	End    *time.Time `gorm:"column:end_time" json:"end"`
	Status CellState  `gorm:"size:32;not null" json:"status"`
}
