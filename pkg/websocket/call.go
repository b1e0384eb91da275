package websocket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"chatify/pkg/event"
	"chatify/pkg/metrics"

	"go.uber.org/zap"
)

// 上行通话信令到下行事件的映射
var callForwards = map[string]string{
	event.ClientAnswerCall:       event.CallAnswered,
	event.ClientRejectCall:       event.CallRejected,
	event.ClientEndCall:          event.CallEnded,
	event.ClientIceCandidate:     event.IceCandidate,
	event.ClientCallStatusUpdate: event.ParticipantStatusUpdate,
}

// 转发前从信令中去掉的寻址字段
var callAddressKeys = []string{"targetId", "participantId", "callerId"}

// CallRelay 转发 WebRTC 信令，服务端不保存通话状态
type CallRelay struct {
	router *Router
	now    func() time.Time
	log    *zap.Logger
}

func NewCallRelay(router *Router, log *zap.Logger) *CallRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &CallRelay{router: router, now: time.Now, log: log}
}

// Initiate 发起通话：被叫在线则推送来电并回振铃，否则回呼叫失败
func (r *CallRelay) Initiate(caller *Client, in event.InitiateCall) error {
	if in.ReceiverID == 0 || in.ReceiverID == caller.UserID {
		return errInvalid("receiverId is required")
	}
	switch in.CallType {
	case "":
		in.CallType = event.CallVoice
	case event.CallVoice, event.CallVideo:
	default:
		return errInvalid("callType must be voice or video")
	}

	callID := fmt.Sprintf("%d-%d-%d", caller.UserID, in.ReceiverID, r.now().UnixMilli())
	callee := r.router.manager.Lookup(in.ReceiverID)
	if callee == nil {
		metrics.IncDropped(event.IncomingCall, metrics.DropOffline)
		r.fail(caller, callID, in.ReceiverID, event.ReasonUserOffline)
		return nil
	}
	delivered := r.router.Send(callee, event.IncomingCall, event.IncomingCallPayload{
		CallID:     callID,
		CallerID:   caller.UserID,
		CallerName: caller.UserName,
		CallerPic:  caller.Avatar,
		CallType:   in.CallType,
		Offer:      in.Offer,
	})
	if !delivered {
		// 被叫在线但发送队列已满或会话正在关闭
		r.fail(caller, callID, in.ReceiverID, event.ReasonUnreachable)
		return nil
	}

	r.router.Send(caller, event.CallRinging, event.CallRingingPayload{CallID: callID, ReceiverID: in.ReceiverID})
	r.log.Info("发起通话", zap.String("call_id", callID), zap.Uint("caller_id", caller.UserID),
		zap.Uint("receiver_id", in.ReceiverID), zap.String("type", string(in.CallType)))
	return nil
}

func (r *CallRelay) fail(caller *Client, callID string, receiverID uint, reason string) {
	r.router.Send(caller, event.CallFailed, event.CallFailedPayload{
		CallID:     callID,
		ReceiverID: receiverID,
		Reason:     reason,
	})
	r.log.Debug("呼叫失败", zap.String("call_id", callID), zap.Uint("receiver_id", receiverID), zap.String("reason", reason))
}

// Forward 把信令原样转给对端：去掉寻址字段并补上 fromId，对端不在线时丢弃
func (r *CallRelay) Forward(from *Client, clientEvent string, data json.RawMessage) error {
	name, ok := callForwards[clientEvent]
	if !ok {
		return errInvalid("unknown call event")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return errInvalid("invalid payload")
	}
	var addr event.CallAddress
	if err := json.Unmarshal(data, &addr); err != nil {
		return errInvalid("invalid payload")
	}
	target := addr.Peer()
	if target == 0 || target == from.UserID {
		return errInvalid("targetId is required")
	}
	if addr.CallID == "" {
		return errInvalid("callId is required")
	}

	for _, k := range callAddressKeys {
		delete(fields, k)
	}
	fields["fromId"] = json.RawMessage(strconv.FormatUint(uint64(from.UserID), 10))
	if clientEvent == event.ClientRejectCall {
		if reason, ok := fields["reason"]; !ok || string(reason) == `""` || string(reason) == "null" {
			fields["reason"] = json.RawMessage(strconv.Quote(event.ReasonRejected))
		}
	}
	r.router.EmitTo(target, name, fields)
	return nil
}
