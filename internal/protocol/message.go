package protocol

import (
	"fmt"

	"github.com/annel0/mmo-hitfx/internal/effects"
	"github.com/annel0/mmo-hitfx/internal/targeting"
	"github.com/annel0/mmo-hitfx/internal/vec"
)

// PeerID идентификатор подключённого узла
type PeerID uint32

// NoPeer отсутствие пира: выделенный сервер или неизвестный отправитель
const NoPeer PeerID = 0

// Delivery адресат сообщения эффекта
type Delivery uint8

const (
	DeliveryTriggeringPeer Delivery = iota + 1 // только инициатору
	DeliveryOtherPeers                         // всем, кроме инициатора
)

func (d Delivery) String() string {
	switch d {
	case DeliveryTriggeringPeer:
		return "triggering_peer"
	case DeliveryOtherPeers:
		return "other_peers"
	default:
		return fmt.Sprintf("delivery(%d)", uint8(d))
	}
}

// PredictionPhase отличает локальное предсказание от подтверждения сервера
type PredictionPhase uint8

const (
	PhaseAnticipated PredictionPhase = iota + 1
	PhaseConfirmed
)

func (p PredictionPhase) String() string {
	switch p {
	case PhaseAnticipated:
		return "anticipated"
	case PhaseConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// HitEffectMessage сообщение сервера о подтверждённом попадании
type HitEffectMessage struct {
	Delivery       Delivery
	Phase          PredictionPhase
	Action         effects.ActionID
	TriggeringPeer PeerID
	Owner          targeting.EntityID
	Target         targeting.EntityID
	Point          vec.Vec3
	Normal         vec.Vec3
	Sequence       uint64
	CorrelationID  string
}

// Hit восстанавливает HitRecord из сообщения
func (m *HitEffectMessage) Hit() targeting.HitRecord {
	return targeting.HitRecord{
		Target:        m.Target,
		ContactPoint:  m.Point,
		ContactNormal: m.Normal,
	}
}

func (m *HitEffectMessage) String() string {
	return fmt.Sprintf("HitEffect{%s %s action=%s peer=%d target=%d seq=%d}",
		m.Delivery, m.Phase, m.Action, m.TriggeringPeer, m.Target, m.Sequence)
}

// Hello первое сообщение клиента: заявляет свой PeerID
type Hello struct {
	Peer PeerID
}

// ActionRequest запрос клиента на выполнение действия от имени его сущности.
// Цели всегда определяет сервер.
type ActionRequest struct {
	Action    effects.ActionID
	Owner     targeting.EntityID
	Origin    vec.Vec3
	Direction vec.Vec3
}

func (r *ActionRequest) String() string {
	return fmt.Sprintf("Action{%s owner=%d}", r.Action, r.Owner)
}
