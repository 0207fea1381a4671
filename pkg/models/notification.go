/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

// NotificationEvent is a passively observed system notification.
type NotificationEvent struct {
	ID           int    `json:"id"`
	Key          string `json:"key"` // unique per occurrence
	PackageName  string `json:"package_name"`
	PostTime     int64  `json:"post_time"`
	IsOngoing    bool   `json:"is_ongoing"`
	IsClearable  bool   `json:"is_clearable"`
	Title        string `json:"title"`
	Text         string `json:"text"`
	ExtendedText string `json:"big_text"`
	WhenMs       int64  `json:"when"`
	BadgeNumber  int    `json:"number"`
	Flags        int    `json:"flags"`
	ChannelID    string `json:"channel_id"`
}

// NotificationContent is the nested "notification" object of the wire format.
type NotificationContent struct {
	Title     string `json:"title"`
	Text      string `json:"text"`
	BigText   string `json:"big_text"`
	When      int64  `json:"when"`
	Number    int    `json:"number"`
	Flags     int    `json:"flags"`
	ChannelID string `json:"channel_id"`
}

// NotificationData is the wire representation of a NotificationEvent.
type NotificationData struct {
	ID           int                 `json:"id"`
	Key          string              `json:"key"`
	PackageName  string              `json:"package_name"`
	PostTime     int64               `json:"post_time"`
	IsOngoing    bool                `json:"is_ongoing"`
	IsClearable  bool                `json:"is_clearable"`
	Notification NotificationContent `json:"notification"`
}

// NotificationPayload is the body of the outbound notification event.
type NotificationPayload struct {
	DeviceID         string           `json:"device_id"`
	NotificationData NotificationData `json:"notification_data"`
}

// Wire converts the event into its nested wire shape.
func (n *NotificationEvent) Wire() NotificationData {
	return NotificationData{
		ID:          n.ID,
		Key:         n.Key,
		PackageName: n.PackageName,
		PostTime:    n.PostTime,
		IsOngoing:   n.IsOngoing,
		IsClearable: n.IsClearable,
		Notification: NotificationContent{
			Title:     n.Title,
			Text:      n.Text,
			BigText:   n.ExtendedText,
			When:      n.WhenMs,
			Number:    n.BadgeNumber,
			Flags:     n.Flags,
			ChannelID: n.ChannelID,
		},
	}
}
