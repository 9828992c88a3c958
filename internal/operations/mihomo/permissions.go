package mihomo

import (
	"github.com/sirupsen/logrus"

	"github.com/huangyocai/mihomo-installer/internal/operations/common"
)

func NewScratchManager(scratchRoot string) *common.PermissionManager {
	return common.NewPermissionManager(
		scratchRoot,
		ScratchDirMode,
		BinaryMode,
		logrus.WithField("component", "mihomo-permissions"),
	)
}
