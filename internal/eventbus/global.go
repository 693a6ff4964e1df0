package eventbus

import "context"

// Глобальная шина процесса. События мира публикуются из глубины пакетов
// world/spawn, где прокидывать шину через все конструкторы неоправданно:
// события нужны для наблюдаемости, не для корректности.
var globalBus EventBus

// Init устанавливает глобальную шину. nil отключает публикацию.
func Init(bus EventBus) { globalBus = bus }

// Publish отправляет событие в глобальную шину. Без инициализированной
// шины событие молча отбрасывается.
func Publish(ctx context.Context, ev *Envelope) error {
	if globalBus == nil {
		return nil
	}
	return globalBus.Publish(ctx, ev)
}
