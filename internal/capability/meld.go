package capability

import (
	"fmt"
	"math"
	"strings"
)

// Remote methods referenced outside the action table.
const (
	MethodSceneList  = "Scenes.GetSceneList"
	MethodSourceList = "Sources.GetSourceList"
)

// Choice ids used by refresh plans and notification rules.
const (
	ChoiceScenes = "scenes:list"
	ChoiceItems  = "items:list"
)

// State ids with special handling.
const (
	StateConnection   = "meld.connection"
	StateCurrentScene = "meld.currentScene"
)

var (
	sceneRefresh = RefreshPlan{
		States:  []string{StateCurrentScene, "meld.sceneList"},
		Choices: []string{ChoiceScenes},
	}
	audioRefresh = RefreshPlan{States: []string{"meld.audio.mix"}}

	sceneItemTarget    = &CompositeTarget{ParentField: "sceneName", ChildField: "itemName"}
	sourceFilterTarget = &CompositeTarget{ParentField: "sourceName", ChildField: "filterName", ParentMayCarryChild: true}
)

// Meld returns the Meld Studio capability table.
func Meld() *Table {
	t, err := NewTable(MeldSpec())
	if err != nil {
		panic(fmt.Sprintf("capability: invalid Meld table: %v", err))
	}
	return t
}

// MeldSpec returns the raw Meld Studio capability set.
func MeldSpec() Spec {
	return Spec{
		Actions:       meldActions(),
		States:        meldStates(),
		Choices:       meldChoices(),
		Parents:       meldParents(),
		Notifications: meldNotifications(),
		Metrics: []MetricsSource{
			{Method: "Stats.GetStats", States: []string{"meld.output.fps", "meld.output.cpu", "meld.output.droppedFrames"}},
			{Method: "Audio.GetAudioStatus", States: []string{"meld.audio.mix"}},
			{Method: "MediaInputs.GetMediaStatus", States: []string{"meld.media.status"}},
		},
	}
}

func meldActions() []ActionDescriptor {
	return []ActionDescriptor{
		{
			ID: "meld.scene.switch", Method: "Scenes.SetCurrentScene", Refresh: sceneRefresh,
			Params: func(f Fields) any { return obj(map[string]any{"sceneName": f.opt("sceneName")}) },
		},
		{
			ID: "meld.scene.create", Method: "Scenes.CreateScene", Refresh: sceneRefresh,
			Params: func(f Fields) any { return obj(map[string]any{"sceneName": f.opt("sceneName")}) },
		},
		{
			ID: "meld.scene.rename", Method: "Scenes.RenameScene", Refresh: sceneRefresh,
			Params: func(f Fields) any {
				return obj(map[string]any{"sceneName": f.opt("sceneName"), "newName": f.opt("newName")})
			},
		},
		{
			ID: "meld.scene.delete", Method: "Scenes.RemoveScene", Refresh: sceneRefresh,
			Params: func(f Fields) any { return obj(map[string]any{"sceneName": f.opt("sceneName")}) },
		},
		{
			ID: "meld.scene.setTransition", Method: "Transitions.SetSceneTransitionOverride",
			Params: func(f Fields) any {
				return obj(map[string]any{
					"transitionName":     f.opt("transition"),
					"transitionDuration": Number(f["duration"]),
				})
			},
		},
		{
			ID: "meld.scene.quickTransition", Method: "Transitions.TriggerSceneTransition",
			Params: func(f Fields) any { return obj(map[string]any{"transitionName": f.opt("transition")}) },
		},
		{
			ID: "meld.source.add", Method: "Sources.CreateSource",
			Params: func(f Fields) any {
				return obj(map[string]any{
					"sceneName":      f.opt("sceneName"),
					"sourceName":     f.opt("sourceName"),
					"sourceKind":     f.opt("sourceType"),
					"sourceSettings": SafeJSON(f["config"], map[string]any{}),
				})
			},
		},
		{
			ID: "meld.source.remove", Method: "Sources.RemoveSource",
			Params: func(f Fields) any {
				return obj(map[string]any{"sceneName": f.opt("sceneName"), "sourceName": f.opt("sourceName")})
			},
		},
		{
			ID: "meld.source.reload", Method: "Sources.ReloadSource",
			Params: func(f Fields) any { return obj(map[string]any{"sourceName": f.opt("sourceName")}) },
		},
		{
			ID: "meld.source.configure", Method: "Sources.SetSourceSettings",
			Params: func(f Fields) any {
				return obj(map[string]any{
					"sourceName":     f.opt("sourceName"),
					"sourceSettings": map[string]any{f["property"]: SafeJSON(f["value"], f["value"])},
				})
			},
		},
		{
			ID: "meld.item.visibility", Method: "SceneItems.SetSceneItemEnabled", Target: sceneItemTarget,
			Params: func(f Fields) any {
				return obj(map[string]any{
					"sceneName":        f.opt("sceneName"),
					"sceneItemId":      f.opt("itemName"),
					"sceneItemEnabled": ParseToggle(f["mode"]),
				})
			},
		},
		{
			ID: "meld.item.transform", Method: "SceneItems.SetSceneItemTransform", Target: sceneItemTarget,
			Params: func(f Fields) any {
				return obj(map[string]any{
					"sceneName":          f.opt("sceneName"),
					"sceneItemId":        f.opt("itemName"),
					"sceneItemTransform": SafeJSON(f["transform"], map[string]any{}),
				})
			},
		},
		{
			ID: "meld.item.order", Method: "SceneItems.SetSceneItemIndex", Target: sceneItemTarget,
			Params: func(f Fields) any {
				return obj(map[string]any{
					"sceneName":      f.opt("sceneName"),
					"sceneItemId":    f.opt("itemName"),
					"sceneItemIndex": f.opt("position"),
				})
			},
		},
		{
			ID: "meld.audio.mute", Method: "Audio.SetSourceMute", Refresh: audioRefresh,
			Params: func(f Fields) any {
				return obj(map[string]any{"sourceName": f.opt("sourceName"), "sourceMute": ParseToggle(f["mode"])})
			},
		},
		{
			ID: "meld.audio.volume", Method: "Audio.SetSourceVolume", Refresh: audioRefresh,
			Params: func(f Fields) any {
				return obj(map[string]any{"sourceName": f.opt("sourceName"), "volumeDb": Number(f["volumeDb"])})
			},
		},
		{
			ID: "meld.audio.monitor", Method: "Audio.SetAudioMonitorType", Refresh: audioRefresh,
			Params: func(f Fields) any {
				return obj(map[string]any{"sourceName": f.opt("sourceName"), "monitorType": f.opt("monitor")})
			},
		},
		{
			ID: "meld.filters.toggle", Method: "Filters.SetSourceFilterEnabled", Target: sourceFilterTarget,
			Params: func(f Fields) any {
				return obj(map[string]any{
					"sourceName":    f.opt("sourceName"),
					"filterName":    f.opt("filterName"),
					"filterEnabled": ParseToggle(f["mode"]),
				})
			},
		},
		{
			ID: "meld.filters.adjust", Method: "Filters.SetSourceFilterSettings", Target: sourceFilterTarget,
			Params: func(f Fields) any {
				return obj(map[string]any{
					"sourceName":     f.opt("sourceName"),
					"filterName":     f.opt("filterName"),
					"filterSettings": map[string]any{f["property"]: SafeJSON(f["value"], f["value"])},
				})
			},
		},
		{
			ID: "meld.transitions.set", Method: "Transitions.SetCurrentTransition",
			Params: func(f Fields) any { return obj(map[string]any{"transitionName": f.opt("transition")}) },
		},
		{
			ID: "meld.transitions.duration", Method: "Transitions.SetCurrentTransitionDuration",
			Params: func(f Fields) any { return obj(map[string]any{"transitionDuration": Number(f["duration"])}) },
		},
		{
			ID: "meld.stream.toggle", Method: "Outputs.ControlStream",
			Refresh: RefreshPlan{States: []string{"meld.streaming.status"}},
			Params:  func(f Fields) any { return obj(map[string]any{"action": f.opt("mode")}) },
		},
		{
			ID: "meld.record.toggle", Method: "Outputs.ControlRecord",
			Refresh: RefreshPlan{States: []string{"meld.recording.status"}},
			Params:  func(f Fields) any { return obj(map[string]any{"action": f.opt("mode")}) },
		},
		{
			ID: "meld.virtualcam.toggle", Method: "Outputs.ControlVirtualCam",
			Refresh: RefreshPlan{States: []string{"meld.virtualcam.status"}},
			Params:  func(f Fields) any { return obj(map[string]any{"action": f.opt("mode")}) },
		},
		{
			ID: "meld.media.control", Method: "MediaInputs.ControlMediaInput",
			Params: func(f Fields) any {
				return obj(map[string]any{
					"inputName":   f.opt("sourceName"),
					"mediaAction": f.opt("command"),
					"timeOffset":  f.opt("timecode"),
				})
			},
		},
		{
			ID: "meld.media.seek", Method: "MediaInputs.SetMediaInputCursor",
			Params: func(f Fields) any {
				return obj(map[string]any{"inputName": f.opt("sourceName"), "mediaCursor": Number(f["position"])})
			},
		},
		{
			ID: "meld.capture.screenshot", Method: "Outputs.CreateScreenshot",
			Params: func(f Fields) any {
				return obj(map[string]any{"captureKind": f.opt("target"), "sourceName": f.nonEmpty("sourceName")})
			},
		},
		{
			ID: "meld.capture.replay", Method: "Outputs.SaveReplayBuffer",
			Params: func(f Fields) any { return obj(map[string]any{"durationSeconds": Number(f["duration"])}) },
		},
		{
			ID: "meld.project.load", Method: "Project.SetCurrentProject",
			Params: func(f Fields) any { return obj(map[string]any{"projectName": f.opt("project")}) },
		},
		{
			ID: "meld.project.save", Method: "Project.SaveProject",
			Params: func(Fields) any { return map[string]any{} },
		},
		{
			ID: "meld.profile.switch", Method: "Profiles.SetCurrentProfile",
			Params: func(f Fields) any { return obj(map[string]any{"profileName": f.opt("profile")}) },
		},
		{
			ID: "meld.collection.switch", Method: "SceneCollections.SetCurrentSceneCollection",
			Params: func(f Fields) any { return obj(map[string]any{"sceneCollectionName": f.opt("collection")}) },
		},
		{
			ID: "meld.advanced.hotkey", Method: "Hotkeys.TriggerHotkeyByName",
			Params: func(f Fields) any { return obj(map[string]any{"hotkeyName": f.opt("hotkey")}) },
		},
		// Escape hatch: the user names the method and supplies raw JSON
		// params. Neither is validated.
		{
			ID:         "meld.advanced.command",
			MethodFrom: func(f Fields) string { return strings.TrimSpace(f["method"]) },
			Params:     func(f Fields) any { return SafeJSON(f["params"], map[string]any{}) },
		},
	}
}

type sceneRef struct {
	SceneName string `json:"sceneName"`
}

type outputStatus struct {
	Active        bool    `json:"active"`
	Paused        bool    `json:"paused"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	KbitsPerSec   float64 `json:"kbitsPerSec"`
}

type statsResult struct {
	OutputActiveFps     *float64 `json:"outputActiveFps"`
	CPUUsage            float64  `json:"cpuUsage"`
	OutputSkippedFrames float64  `json:"outputSkippedFrames"`
	OutputTotalFrames   float64  `json:"outputTotalFrames"`
}

// field maps {key: "value"} to the string value.
func field(key string) func(any) (string, error) {
	return func(raw any) (string, error) {
		s, _ := member(raw, key).(string)
		return s, nil
	}
}

func sceneName(raw any) (string, error) {
	var r sceneRef
	if err := decode(raw, &r); err != nil {
		return "", err
	}
	return r.SceneName, nil
}

func output(mapFn func(outputStatus) string) func(any) (string, error) {
	return func(raw any) (string, error) {
		var s outputStatus
		if err := decode(raw, &s); err != nil {
			return "", err
		}
		return mapFn(s), nil
	}
}

func stats(mapFn func(statsResult) string) func(any) (string, error) {
	return func(raw any) (string, error) {
		var s statsResult
		if err := decode(raw, &s); err != nil {
			return "", err
		}
		return mapFn(s), nil
	}
}

func meldStates() []StateDescriptor {
	return []StateDescriptor{
		{ID: StateConnection, FromConnection: true},
		{ID: StateCurrentScene, PollMethod: "Scenes.GetCurrentProgramScene", Map: sceneName},
		{ID: "meld.previewScene", PollMethod: "Scenes.GetCurrentPreviewScene", Map: sceneName},
		{
			ID: "meld.sceneList", PollMethod: MethodSceneList,
			Map: func(raw any) (string, error) {
				names, err := namesUnder("scenes")(raw)
				if err != nil {
					return "", err
				}
				return strings.Join(names, ", "), nil
			},
		},
		{
			ID: "meld.streaming.status", PollMethod: "Outputs.GetStreamStatus",
			Map: output(func(s outputStatus) string {
				if s.Active {
					return "online"
				}
				return "offline"
			}),
		},
		{
			ID: "meld.streaming.uptime", PollMethod: "Outputs.GetStreamStatus",
			Map: output(func(s outputStatus) string { return FormatDuration(s.UptimeSeconds) }),
		},
		{
			ID: "meld.streaming.bitrate", PollMethod: "Outputs.GetStreamStatus",
			Map: output(func(s outputStatus) string { return fmt.Sprintf("%d kbps", int64(math.Round(s.KbitsPerSec))) }),
		},
		{
			ID: "meld.recording.status", PollMethod: "Outputs.GetRecordStatus",
			Map: output(func(s outputStatus) string {
				switch {
				case s.Active && s.Paused:
					return "paused"
				case s.Active:
					return "recording"
				default:
					return "idle"
				}
			}),
		},
		{
			ID: "meld.recording.uptime", PollMethod: "Outputs.GetRecordStatus",
			Map: output(func(s outputStatus) string { return FormatDuration(s.UptimeSeconds) }),
		},
		{
			ID: "meld.virtualcam.status", PollMethod: "Outputs.GetVirtualCamStatus",
			Map: output(func(s outputStatus) string {
				if s.Active {
					return "on"
				}
				return "off"
			}),
		},
		{
			ID: "meld.output.fps", PollMethod: "Stats.GetStats",
			Map: stats(func(s statsResult) string {
				if s.OutputActiveFps == nil {
					return "0"
				}
				return fmt.Sprintf("%.2f", *s.OutputActiveFps)
			}),
		},
		{
			ID: "meld.output.cpu", PollMethod: "Stats.GetStats",
			Map: stats(func(s statsResult) string { return fmt.Sprintf("%.1f%%", s.CPUUsage) }),
		},
		{
			ID: "meld.output.droppedFrames", PollMethod: "Stats.GetStats",
			Map: stats(func(s statsResult) string {
				return formatCount(s.OutputSkippedFrames) + "/" + formatCount(s.OutputTotalFrames)
			}),
		},
		{ID: "meld.audio.mix", PollMethod: "Audio.GetAudioStatus", Map: jsonUnder("sources")},
		{ID: "meld.media.status", PollMethod: "MediaInputs.GetMediaStatus", Map: jsonUnder("inputs")},
		{ID: "meld.project.name", PollMethod: "Project.GetCurrentProject", Map: field("projectName")},
		{ID: "meld.profile.name", PollMethod: "Profiles.GetCurrentProfile", Map: field("profileName")},
		{ID: "meld.collection.name", PollMethod: "SceneCollections.GetCurrentSceneCollection", Map: field("sceneCollectionName")},
	}
}

func meldChoices() []ChoiceDescriptor {
	return []ChoiceDescriptor{
		{ID: ChoiceScenes, Method: MethodSceneList, Map: namesUnder("scenes")},
		{ID: "sources:list", Method: MethodSourceList, Map: namesUnder("sources")},
		{ID: "sources:types", Method: "Sources.GetSourceTypes", Map: stringsUnder("sourceTypes")},
		{ID: "sources:properties", Method: "Sources.GetSourceSettingsSchema", Map: keysUnder("properties")},
		{ID: ChoiceItems, Method: "SceneItems.GetSceneItemList", Map: namesUnder("items"), Context: FanOutScenes},
		{ID: "filters:list", Method: "Filters.GetSourceFilterList", Map: namesUnder("filters"), Context: FanOutSources},
		{ID: "transitions:list", Method: "Transitions.GetTransitionList", Map: namesUnder("transitions")},
		{ID: "audio:sources", Method: "Audio.GetSources", Map: namesUnder("sources")},
		{ID: "media:sources", Method: "MediaInputs.GetMediaInputs", Map: namesUnder("inputs")},
		{ID: "project:list", Method: "Project.GetProjectList", Map: stringsUnder("projects")},
		{ID: "profile:list", Method: "Profiles.GetProfileList", Map: stringsUnder("profiles")},
		{ID: "collection:list", Method: "SceneCollections.GetSceneCollectionList", Map: stringsUnder("collections")},
		{ID: "hotkeys:list", Method: "Hotkeys.GetHotkeyList", Map: namesUnder("hotkeys")},
	}
}

func meldParents() map[FanOut]Parent {
	return map[FanOut]Parent{
		FanOutScenes:  {ListMethod: MethodSceneList, Param: "sceneName", Map: namesUnder("scenes")},
		FanOutSources: {ListMethod: MethodSourceList, Param: "sourceName", Map: namesUnder("sources")},
	}
}

func meldNotifications() map[string]NotificationRule {
	return map[string]NotificationRule{
		"Scenes.CurrentProgramSceneChanged": {
			State: StateCurrentScene, Param: "sceneName",
			RefreshChoices: []string{ChoiceItems},
		},
		"Scenes.CurrentPreviewSceneChanged": {State: "meld.previewScene", Param: "sceneName"},
		"Outputs.StreamStateChanged":        {State: "meld.streaming.status", Param: "state"},
		"Outputs.RecordStateChanged":        {State: "meld.recording.status", Param: "state"},
		"Outputs.VirtualCamStateChanged":    {State: "meld.virtualcam.status", Param: "state"},
		"Audio.SourceMuteStateChanged":      {RefreshStates: []string{"meld.audio.mix"}},
		"Audio.SourceVolumeChanged":         {RefreshStates: []string{"meld.audio.mix"}},
		"MediaInputs.MediaStateChanged":     {RefreshStates: []string{"meld.media.status"}},
	}
}
