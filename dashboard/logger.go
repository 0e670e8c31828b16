package dashboard

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "dashboard")
