package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/annel0/bigworld/internal/logging"
)

// Префикс ключей сохранённых позиций
const positionKeyPrefix = "bigworld:pos:"

// PersistedPosition сохранённая позиция игрока в нормализованных
// координатах мира. Высота не сохраняется никогда: при восстановлении
// она заново выводится из рельефа.
type PersistedPosition struct {
	X       float64   // Нормализованная X в [0, 1]
	Z       float64   // Нормализованная Z в [0, 1]
	SavedAt time.Time // Нулевое время для записей старого формата
}

// positionRecord формат записи на диске. Текущая схема кладёт координаты
// во вложенный объект position; старые клиенты писали x/z плоско.
// Указатели отличают отсутствующее поле от нулевого значения.
type positionRecord struct {
	Position  *positionPoint `json:"position,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`

	// Плоская схема старого формата
	X *float64 `json:"x,omitempty"`
	Z *float64 `json:"z,omitempty"`
}

type positionPoint struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// PositionStore сохраняет и восстанавливает позиции игроков поверх
// любого RecordStore
type PositionStore struct {
	records RecordStore
}

// NewPositionStore создаёт хранилище позиций
func NewPositionStore(records RecordStore) *PositionStore {
	return &PositionStore{records: records}
}

// Save сохраняет нормализованную позицию профиля.
// Координаты за пределами [0, 1] зажимаются в диапазон; неконечные
// значения зажать нечем, они отклоняются. Запись всегда пишется в
// текущей схеме с меткой времени.
func (ps *PositionStore) Save(ctx context.Context, profileID string, normX, normZ float64) error {
	if profileID == "" {
		return fmt.Errorf("пустой profileID")
	}
	if !finite(normX) || !finite(normZ) {
		return fmt.Errorf("позиция (%v, %v) не является конечным числом", normX, normZ)
	}

	rec := positionRecord{
		Position:  &positionPoint{X: clampNorm(normX), Z: clampNorm(normZ)},
		Timestamp: time.Now().UnixMilli(),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ошибка сериализации позиции: %w", err)
	}

	return ps.records.Put(ctx, positionKey(profileID), data)
}

// Load восстанавливает сохранённую позицию профиля.
// Возвращает (nil, nil) при первом входе. Повреждённая запись — битый
// JSON, координаты вне [0, 1], NaN или бесконечность — удаляется, и
// профиль считается новым: лучше заспавнить игрока в дефолте, чем в
// мусорной точке.
func (ps *PositionStore) Load(ctx context.Context, profileID string) (*PersistedPosition, error) {
	if profileID == "" {
		return nil, fmt.Errorf("пустой profileID")
	}

	key := positionKey(profileID)
	data, err := ps.records.Get(ctx, key)
	if err == ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec positionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		ps.dropCorrupt(ctx, key, profileID, fmt.Sprintf("битый JSON: %v", err))
		return nil, nil
	}

	var pos PersistedPosition
	switch {
	case rec.Position != nil:
		pos.X = rec.Position.X
		pos.Z = rec.Position.Z
		if rec.Timestamp > 0 {
			pos.SavedAt = time.UnixMilli(rec.Timestamp)
		}
	case rec.X != nil && rec.Z != nil:
		// Запись старого формата: координаты есть, метки времени нет
		pos.X = *rec.X
		pos.Z = *rec.Z
	default:
		ps.dropCorrupt(ctx, key, profileID, "нет координат ни в одной схеме")
		return nil, nil
	}

	if !validNorm(pos.X) || !validNorm(pos.Z) {
		ps.dropCorrupt(ctx, key, profileID, fmt.Sprintf("координаты (%v, %v) вне [0, 1]", pos.X, pos.Z))
		return nil, nil
	}

	return &pos, nil
}

// Clear удаляет сохранённую позицию профиля
func (ps *PositionStore) Clear(ctx context.Context, profileID string) error {
	if profileID == "" {
		return fmt.Errorf("пустой profileID")
	}
	return ps.records.Delete(ctx, positionKey(profileID))
}

// dropCorrupt удаляет повреждённую запись, чтобы она не ломала каждый
// следующий вход
func (ps *PositionStore) dropCorrupt(ctx context.Context, key, profileID, reason string) {
	logging.Warn("⚠️ Повреждённая сохранённая позиция профиля %s (%s), запись удалена", profileID, reason)
	if err := ps.records.Delete(ctx, key); err != nil {
		logging.Error("Не удалось удалить повреждённую запись %s: %v", key, err)
	}
}

func positionKey(profileID string) string {
	return positionKeyPrefix + profileID
}

func validNorm(v float64) bool {
	return finite(v) && v >= 0 && v <= 1
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clampNorm(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
