package model

import "time"

// ScalingRecord is one row of the scaling change audit log. Rows are
// written after a change is applied and read only by the history API; the
// decision path never consults them.
type ScalingRecord struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RecordID    string    `gorm:"column:record_id;type:varchar(64);not null;uniqueIndex:idx_record_id_unique" json:"record_id"`
	StreamName  string    `gorm:"column:stream_name;type:varchar(255);not null;index:idx_stream_timestamp,priority:1" json:"stream_name"`
	Timestamp   time.Time `gorm:"column:timestamp;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3);index:idx_timestamp;index:idx_stream_timestamp,priority:2" json:"timestamp"`
	Direction   string    `gorm:"column:direction;type:varchar(10);not null" json:"direction"`
	FromShards  int       `gorm:"column:from_shards;type:int;not null" json:"from_shards"`
	ToShards    int       `gorm:"column:to_shards;type:int;not null" json:"to_shards"`
	Signal      float64   `gorm:"column:signal_value;type:double;not null" json:"signal"`
	Policy      string    `gorm:"column:policy;type:varchar(50);not null" json:"policy"`
	Outcome     string    `gorm:"column:outcome;type:varchar(20);not null" json:"outcome"`
	FailureNote string    `gorm:"column:failure_note;type:text" json:"failure_note,omitempty"`
}

// TableName specifies the table name for ScalingRecord
func (ScalingRecord) TableName() string {
	return "scaling_records"
}
