package styles

// Tip: To find icons use https://github.com/loichyan/nerdfix

var (
	IconConnected    = "󰌘 " // 󰌘
	IconDisconnected = "󰌙 " // 󰌙
	IconBroker       = "󰖟 " // 󰖟
	IconTopic        = " " //
	IconRetained     = "󰐃 " // 󰐃
	IconSubscription = " " //
	IconPublish      = " " //
	IconWarning      = " " //
)
