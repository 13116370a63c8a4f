package transport

import (
	"errors"
	"net"
	"net/netip"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-dhtdb/pkg/interfaces"
	"github.com/dep2p/go-dhtdb/pkg/types"
)

// ImporterConfig 导入器配置
type ImporterConfig struct {
	// MinVersion 本地最低版本覆盖；只能提高编译期最低版本
	MinVersion ProtocolVersion

	// HistorySize 最近导入联系人缓存容量
	HistorySize int
}

// DefaultImporterConfig 默认配置
func DefaultImporterConfig() ImporterConfig {
	return ImporterConfig{HistorySize: 1024}
}

// Importer 联系人导入
//
// 所有来自网络的联系人都必须经过导入：检查版本、地址与 IP 过滤器。
type Importer struct {
	minVersion ProtocolVersion
	filter     interfaces.IPFilter
	classifier interfaces.AltNetClassifier
	history    *lru.Cache[types.Key, Contact]
}

// NewImporter 创建导入器
//
// filter 与 classifier 为 nil 时分别使用不过滤与后缀识别。
func NewImporter(cfg ImporterConfig, filter interfaces.IPFilter, classifier interfaces.AltNetClassifier) (*Importer, error) {
	if filter == nil {
		filter = interfaces.NoFilter{}
	}
	if classifier == nil {
		classifier = interfaces.SuffixClassifier{}
	}
	size := cfg.HistorySize
	if size <= 0 {
		size = DefaultImporterConfig().HistorySize
	}
	history, err := lru.New[types.Key, Contact](size)
	if err != nil {
		return nil, err
	}
	return &Importer{
		minVersion: EffectiveMinimum(cfg.MinVersion),
		filter:     filter,
		classifier: classifier,
		history:    history,
	}, nil
}

// MinVersion 生效最低版本
func (im *Importer) MinVersion() ProtocolVersion { return im.minVersion }

// ImportContact 由地址与声明版本导入联系人
func (im *Importer) ImportContact(address string, version ProtocolVersion, isBootstrap bool) (Contact, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return Contact{}, importErr(address, "invalid address", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return Contact{}, importErr(address, "invalid port", err)
	}
	network := im.classifier.Classify(host)
	return im.admit(address, host, uint16(port), version, network, isBootstrap)
}

// ImportDescriptor 由序列化描述符导入联系人
func (im *Importer) ImportDescriptor(data []byte) (Contact, error) {
	host, port, version, network, err := parseDescriptor(data)
	if err != nil {
		return Contact{}, importErr("", "malformed descriptor", err)
	}
	address := net.JoinHostPort(host, strconv.Itoa(int(port)))
	if port == 0 {
		return Contact{}, importErr(address, "invalid port", nil)
	}
	// 声明的网络类别以本地分类为准
	if c := im.classifier.Classify(host); c != network {
		network = c
	}
	return im.admit(address, host, port, version, network, false)
}

// ImportObserved 导入请求发送者，并以观察到的来源地址替换声明地址
//
// 替换发生在策略检查之前：声明 0.0.0.0 或内网地址的发送者按其观察地址导入。
// 仅对普通网络替换；替代网络的来源地址没有意义。
func (im *Importer) ImportObserved(data []byte, observed string) (Contact, error) {
	host, port, version, network, err := parseDescriptor(data)
	if err != nil {
		return Contact{}, importErr(observed, "malformed descriptor", err)
	}
	if c := im.classifier.Classify(host); c != network {
		network = c
	}
	if network == types.NetworkOrdinary && observed != "" {
		if obs, perr := netip.ParseAddrPort(observed); perr == nil {
			host, port = obs.Addr().Unmap().String(), obs.Port()
		}
	}
	address := net.JoinHostPort(host, strconv.Itoa(int(port)))
	if port == 0 {
		return Contact{}, importErr(address, "invalid port", nil)
	}
	return im.admit(address, host, port, version, network, false)
}

func (im *Importer) admit(address, host string, port uint16, version ProtocolVersion, network types.Network, isBootstrap bool) (Contact, error) {
	if version < im.minVersion {
		return Contact{}, importErr(address, "protocol version "+version.String()+" below minimum "+im.minVersion.String(), nil)
	}
	if host == "" {
		return Contact{}, importErr(address, "empty host", nil)
	}

	if network == types.NetworkOrdinary {
		ip, err := netip.ParseAddr(host)
		if err != nil {
			return Contact{}, importErr(address, "invalid ip", err)
		}
		ip = ip.Unmap()
		if ip.IsUnspecified() || ip.IsMulticast() {
			return Contact{}, importErr(address, "unusable ip", nil)
		}
		if im.filter.IsBlocked(ip) {
			return Contact{}, importErr(address, "filtered", errors.New("ip filter"))
		}
		host = ip.String()
	}

	c := newContact(host, port, version, network)
	im.history.Add(c.id, c)
	if isBootstrap {
		log.Debug("导入引导节点", "contact", c.String())
	}
	return c, nil
}

// Local 构造本节点联系人，不经过过滤器
func (im *Importer) Local(address string) (Contact, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return Contact{}, importErr(address, "invalid local address", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Contact{}, importErr(address, "invalid local port", err)
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		host = ip.Unmap().String()
	}
	return newContact(host, uint16(port), VersionCurrent, im.classifier.Classify(host)), nil
}

// Recent 最近导入的联系人（最新在后）
//
// 不可达的联系人会被 Client 移除，因此可作为近邻集合使用。
func (im *Importer) Recent() []Contact {
	return im.history.Values()
}

// Forget 从最近联系人中移除（对端不可达时调用）
func (im *Importer) Forget(id types.Key) {
	im.history.Remove(id)
}

// Lookup 按 ID 查找最近导入的联系人
func (im *Importer) Lookup(id types.Key) (Contact, bool) {
	return im.history.Get(id)
}
