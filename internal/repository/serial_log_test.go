package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/homelink/internal/models"
	"gorm.io/gorm"
)

// SerialLogRepositoryTestSuite 串口日志仓库测试套件
type SerialLogRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo *SerialLogRepository
}

func (s *SerialLogRepositoryTestSuite) SetupSuite() {
	s.db = SetupTestDB()
	s.repo = NewSerialLogRepository(s.db)
}

func (s *SerialLogRepositoryTestSuite) TearDownSuite() {
	CleanupTestDB(s.db)
}

func (s *SerialLogRepositoryTestSuite) SetupTest() {
	s.db.Exec("DELETE FROM serial_logs")
}

// seed 写入两次交互：一次成功的查询和一次超时的翻转
func (s *SerialLogRepositoryTestSuite) seed() {
	logs := []*models.SerialLog{
		{Direction: models.DirectionSend, Command: "get_status", RawData: "get_status\n", RequestID: "r1", SessionID: "s1"},
		{Direction: models.DirectionReceive, Command: "get_status", RawData: `[{"id":0,"status":"off"}]`, RequestID: "r1", SessionID: "s1", Duration: 20},
		{Direction: models.DirectionSend, Command: "toggle_1", RawData: "toggle_1\n", RequestID: "r2", SessionID: "s1"},
		{Direction: models.DirectionReceive, Command: "toggle_1", RequestID: "r2", SessionID: "s1", Duration: 1000, ErrorMsg: "串口超时"},
	}
	require.NoError(s.T(), s.repo.CreateBatch(logs))
}

func (s *SerialLogRepositoryTestSuite) TestCreate() {
	log := &models.SerialLog{Direction: models.DirectionSend, Command: "get_status"}
	require.NoError(s.T(), s.repo.Create(log))

	assert.NotZero(s.T(), log.ID)
	assert.False(s.T(), log.CreatedAt.IsZero())
	assert.Equal(s.T(), log.CreatedAt.UnixMilli(), log.Timestamp)
}

func (s *SerialLogRepositoryTestSuite) TestCreateBatch_Empty() {
	assert.NoError(s.T(), s.repo.CreateBatch(nil))
}

func (s *SerialLogRepositoryTestSuite) TestGetByRequestID() {
	s.seed()

	logs, err := s.repo.GetByRequestID("r2")
	require.NoError(s.T(), err)
	require.Len(s.T(), logs, 2)
	assert.Equal(s.T(), models.DirectionSend, logs[0].Direction)
	assert.Equal(s.T(), models.DirectionReceive, logs[1].Direction)
}

func (s *SerialLogRepositoryTestSuite) TestQuery_Filters() {
	s.seed()

	logs, total, err := s.repo.Query(&models.SerialLogQuery{Direction: models.DirectionSend})
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 2, total)
	assert.Len(s.T(), logs, 2)

	logs, total, err = s.repo.Query(&models.SerialLogQuery{Command: "toggle"})
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 2, total)
	for _, l := range logs {
		assert.Equal(s.T(), "toggle_1", l.Command)
	}

	hasError := true
	logs, total, err = s.repo.Query(&models.SerialLogQuery{HasError: &hasError})
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 1, total)
	assert.Equal(s.T(), "r2", logs[0].RequestID)
}

func (s *SerialLogRepositoryTestSuite) TestQuery_Paging() {
	s.seed()

	logs, total, err := s.repo.Query(&models.SerialLogQuery{Limit: 1, Offset: 1})
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 4, total)
	require.Len(s.T(), logs, 1)
	assert.Equal(s.T(), "toggle_1", logs[0].Command, "按ID倒序，第二条是翻转命令的发送记录")
	assert.Equal(s.T(), models.DirectionSend, logs[0].Direction)
}

func (s *SerialLogRepositoryTestSuite) TestGetStats() {
	s.seed()

	stats, err := s.repo.GetStats(nil, nil)
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 4, stats.TotalCount)
	assert.EqualValues(s.T(), 2, stats.TotalSend)
	assert.EqualValues(s.T(), 2, stats.TotalReceive)
	assert.EqualValues(s.T(), 1, stats.TotalErrors)
	assert.InDelta(s.T(), 510, stats.AvgDuration, 0.001)
	assert.EqualValues(s.T(), 1000, stats.MaxDuration)
}

func (s *SerialLogRepositoryTestSuite) TestGetStats_Empty() {
	stats, err := s.repo.GetStats(nil, nil)
	require.NoError(s.T(), err)
	assert.Zero(s.T(), stats.TotalCount)
	assert.Zero(s.T(), stats.AvgDuration)
}

func (s *SerialLogRepositoryTestSuite) TestGetLatest() {
	s.seed()

	logs, err := s.repo.GetLatest(2)
	require.NoError(s.T(), err)
	require.Len(s.T(), logs, 2)
	assert.Equal(s.T(), models.DirectionReceive, logs[0].Direction)
	assert.Equal(s.T(), "r2", logs[0].RequestID)
}

func (s *SerialLogRepositoryTestSuite) TestCleanupLogs() {
	old := &models.SerialLog{Direction: models.DirectionSend, CreatedAt: time.Now().AddDate(0, 0, -10)}
	require.NoError(s.T(), s.repo.Create(old))
	s.seed()

	n, err := s.repo.CleanupLogs(7)
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 1, n)

	_, err = s.repo.CleanupLogs(0)
	assert.Error(s.T(), err)
}

func TestSerialLogRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(SerialLogRepositoryTestSuite))
}
